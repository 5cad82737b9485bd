package tlog

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	var out, errw bytes.Buffer
	if _, err := NewLogger("standard", Info, &out, &errw); err != nil {
		t.Fatalf("standard: %v", err)
	}
	if _, err := NewLogger("json", Info, &out, &errw); err != nil {
		t.Fatalf("json: %v", err)
	}
	if _, err := NewLogger("bogus", Info, &out, &errw); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestStdLoggerRoutesByLevel(t *testing.T) {
	var out, errw bytes.Buffer
	l, err := NewStdLogger(&out, &errw, Debug)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	l.InfoContext(ctx, "hello")
	l.ErrorContext(ctx, "boom")

	if !strings.Contains(out.String(), "hello") {
		t.Errorf("expected info message in out stream, got %q", out.String())
	}
	if !strings.Contains(errw.String(), "boom") {
		t.Errorf("expected error message in err stream, got %q", errw.String())
	}
	if strings.Contains(out.String(), "boom") {
		t.Errorf("error message leaked into out stream")
	}
}

func TestSeverityToLevelRoundTrip(t *testing.T) {
	for _, s := range []string{Debug, Info, Warn, Error} {
		lvl, err := SeverityToLevel(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		got, err := levelToSeverity(lvl.String())
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if got != s {
			t.Errorf("round trip %s -> %s", s, got)
		}
	}
	if _, err := SeverityToLevel("nope"); err == nil {
		t.Fatal("expected error for invalid severity")
	}
}

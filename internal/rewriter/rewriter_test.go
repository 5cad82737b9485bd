package rewriter

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/thalamusdb/thalamusdb/internal/query"
	"github.com/thalamusdb/thalamusdb/internal/store"
)

func newCarsEngine(t *testing.T) *store.Engine {
	t.Helper()
	ctx := context.Background()
	e, err := store.Open(ctx, ":memory:", noop.NewTracerProvider().Tracer("test"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	if err := e.Exec(ctx, "CREATE TABLE cars (id INTEGER, pic TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return e
}

func TestRewriteUnaryDefaultOne(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)
	q, err := query.Parse(ctx, e, "SELECT * FROM cars WHERE NLfilter(pic, 'a car')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	sql, err := Rewrite(q, AllDefaults(q.Predicates, 1))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if strings.Contains(sql, "nlfilter") || strings.Contains(sql, "NLfilter") {
		t.Errorf("expected nlfilter call to be replaced, got %q", sql)
	}
	if !strings.Contains(sql, "result IS TRUE OR result IS NULL") {
		t.Errorf("expected default=1 membership clause, got %q", sql)
	}
}

func TestRewriteUnaryDefaultZero(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)
	q, err := query.Parse(ctx, e, "SELECT * FROM cars WHERE NLfilter(pic, 'a car')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	sql, err := Rewrite(q, AllDefaults(q.Predicates, 0))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if strings.Contains(sql, "IS NULL") {
		t.Errorf("expected default=0 membership clause without IS NULL, got %q", sql)
	}
}

func TestCombinationsCount(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)
	q, err := query.Parse(ctx, e, "SELECT * FROM cars C1, cars C2 WHERE NLfilter(C1.pic,'red') AND NLfilter(C2.pic,'blue') AND NLjoin(C1.pic,C2.pic,'similar')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	combos := Combinations(q.Predicates)
	if len(combos) != 8 {
		t.Fatalf("expected 2^3 = 8 combinations, got %d", len(combos))
	}
	for _, c := range combos {
		if len(c) != 3 {
			t.Fatalf("expected 3 predicates assigned a bit, got %d", len(c))
		}
	}
}

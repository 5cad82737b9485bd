package store

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := Open(ctx, ":memory:", noop.NewTracerProvider().Tracer("test"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecAndSchema(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	if err := e.Exec(ctx, "CREATE TABLE cars (id INTEGER, pic TEXT)"); err != nil {
		t.Fatalf("Exec CREATE TABLE: %v", err)
	}
	if err := e.Exec(ctx, "INSERT INTO cars (id, pic) VALUES (1, 'car1.jpeg')"); err != nil {
		t.Fatalf("Exec INSERT: %v", err)
	}

	schema, err := e.Schema(ctx)
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	cols, ok := schema["cars"]
	if !ok {
		t.Fatalf("expected table cars in schema, got %v", schema)
	}
	if cols["pic"] != "TEXT" {
		t.Errorf("expected pic column to be TEXT, got %q", cols["pic"])
	}

	rows, err := e.Execute(ctx, "SELECT id, pic FROM cars")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	results, cols2, err := ScanRows(rows)
	if err != nil {
		t.Fatalf("ScanRows: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 row, got %d", len(results))
	}
	if len(cols2) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(cols2))
	}
	if results[0]["pic"] != "car1.jpeg" {
		t.Errorf("got pic=%v", results[0]["pic"])
	}
}

func TestColumnsMissingTable(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)

	if _, err := e.Columns(ctx, "nope"); err == nil {
		t.Fatal("expected error for missing table")
	}
}

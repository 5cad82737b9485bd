package operator

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/thalamusdb/thalamusdb/internal/llmclient/mockclassifier"
	"github.com/thalamusdb/thalamusdb/internal/predicate"
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
	for i := 1; i <= 3; i++ {
		if err := e.Exec(ctx, "INSERT INTO cars (id, pic) VALUES (?, ?)", i, "a car"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return e
}

func TestUnaryFilterPrepareAndExecute(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)
	q, err := query.Parse(ctx, e, "SELECT * FROM cars WHERE NLfilter(pic, 'a car')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pred := q.Predicates[0].(*predicate.Unary)

	op := NewUnaryFilter(e, mockclassifier.Constant{Decision: 1}, q, pred)
	if err := op.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	progressed, err := op.Execute(ctx, 10, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if progressed != 1 {
		// Three rows share the value "a car", so the keyed UPDATE
		// decides all three at once but only one distinct value is
		// fetched from the scratch table.
		t.Errorf("progressed = %d, want 1 (one distinct value)", progressed)
	}

	rows, err := e.Execute(ctx, "SELECT result FROM "+op.ScratchTable()+" WHERE result IS NOT NULL")
	if err != nil {
		t.Fatalf("query scratch table: %v", err)
	}
	results, _, err := store.ScanRows(rows)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("decided rows = %d, want 3 (duplicate values share one decision)", len(results))
	}
	if op.Counters().LLMCalls != 1 {
		t.Errorf("LLMCalls = %d, want 1", op.Counters().LLMCalls)
	}
}

func TestUnaryFilterPersistentFailureLeavesRowUnknown(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)
	q, err := query.Parse(ctx, e, "SELECT * FROM cars WHERE NLfilter(pic, 'a car')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pred := q.Predicates[0].(*predicate.Unary)

	op := NewUnaryFilter(e, mockclassifier.Failing{Err: errBoom}, q, pred)
	if err := op.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	progressed, err := op.Execute(ctx, 10, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if progressed != 0 {
		t.Errorf("progressed = %d, want 0", progressed)
	}

	rows, err := e.Execute(ctx, "SELECT result FROM "+op.ScratchTable()+" WHERE result IS NULL")
	if err != nil {
		t.Fatalf("query scratch table: %v", err)
	}
	results, _, err := store.ScanRows(rows)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("still-unknown rows = %d, want 3", len(results))
	}
}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }

var errBoom = &boomErr{}

func TestJoinPrepareAndExecute(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)
	sql := "SELECT * FROM cars C1, cars C2 WHERE NLjoin(C1.pic, C2.pic, 'similar')"
	q, err := query.Parse(ctx, e, sql)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pred := q.Predicates[0].(*predicate.Join)

	op := NewJoin(e, mockclassifier.Constant{Decision: 1}, q, pred)
	if err := op.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	rows, err := e.Execute(ctx, "SELECT COUNT(*) FROM "+op.ScratchTable())
	if err != nil {
		t.Fatalf("count scratch table: %v", err)
	}
	results, _, err := store.ScanRows(rows)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := results[0]["COUNT(*)"]; got != int64(9) {
		t.Errorf("scratch row count = %v, want 9 (3x3 cartesian product)", got)
	}

	progressed, err := op.Execute(ctx, 100, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if progressed == 0 {
		t.Error("expected progress on join scratch rows")
	}
}

package bounds

import (
	"context"
	"math"
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
	if err := e.Exec(ctx, "CREATE TABLE cars (id INTEGER, pic TEXT, price REAL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	rows := []string{
		"INSERT INTO cars (id, pic, price) VALUES (1, 'red_car.jpg', 10000)",
		"INSERT INTO cars (id, pic, price) VALUES (2, 'blue_car.jpg', 20000)",
		"INSERT INTO cars (id, pic, price) VALUES (3, 'red_truck.jpg', 30000)",
		"INSERT INTO cars (id, pic, price) VALUES (4, 'blue_truck.jpg', 40000)",
		"INSERT INTO cars (id, pic, price) VALUES (5, 'green_car.jpg', 50000)",
	}
	for _, r := range rows {
		if err := e.Exec(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return e
}

// seedScratch creates and populates the scratch table for a single unary
// predicate, one row per pic; a nil decision leaves that row unevaluated.
func seedScratch(t *testing.T, e *store.Engine, table string, decisions map[string]*bool) {
	t.Helper()
	ctx := context.Background()
	if err := e.Exec(ctx, "CREATE TABLE "+table+" (base_pic TEXT, result BOOLEAN, simulated BOOLEAN)"); err != nil {
		t.Fatalf("create scratch: %v", err)
	}
	for pic, decision := range decisions {
		var resultSQL string
		if decision == nil {
			resultSQL = "NULL"
		} else if *decision {
			resultSQL = "1"
		} else {
			resultSQL = "0"
		}
		stmt := "INSERT INTO " + table + " (base_pic, result, simulated) VALUES ('" + pic + "', " + resultSQL + ", 0)"
		if err := e.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed scratch: %v", err)
		}
	}
}

func TestComputeRetrievalBoundsFullyEvaluated(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)

	q, err := query.Parse(ctx, e, "SELECT pic FROM cars WHERE NLfilter(pic, 'a red vehicle')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	table := "scratch_uf_" + q.Predicates[0].ID()
	truth := map[string]*bool{
		"red_car.jpg":    boolPtr(true),
		"blue_car.jpg":   boolPtr(false),
		"red_truck.jpg":  boolPtr(true),
		"blue_truck.jpg": boolPtr(false),
		"green_car.jpg":  boolPtr(false),
	}
	seedScratch(t, e, table, truth)

	res, err := Compute(ctx, e, q)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.IsAggregate {
		t.Fatal("expected retrieval result, got aggregate")
	}
	if len(res.Retrieval.Intersection) != len(res.Retrieval.Union) {
		t.Errorf("expected converged bounds: intersection=%d union=%d", len(res.Retrieval.Intersection), len(res.Retrieval.Union))
	}
	if len(res.Retrieval.Union) != 2 {
		t.Fatalf("expected 2 matching rows, got %d", len(res.Retrieval.Union))
	}
	if res.Error != 0 {
		t.Errorf("expected zero error once fully evaluated, got %v", res.Error)
	}
}

func TestComputeRetrievalBoundsPartiallyEvaluated(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)

	q, err := query.Parse(ctx, e, "SELECT pic FROM cars WHERE NLfilter(pic, 'a red vehicle')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	table := "scratch_uf_" + q.Predicates[0].ID()
	partial := map[string]*bool{
		"red_car.jpg":    boolPtr(true),
		"blue_car.jpg":   nil,
		"red_truck.jpg":  nil,
		"blue_truck.jpg": boolPtr(false),
		"green_car.jpg":  boolPtr(false),
	}
	seedScratch(t, e, table, partial)

	res, err := Compute(ctx, e, q)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(res.Retrieval.Intersection) != 1 {
		t.Errorf("expected 1 certain row, got %d", len(res.Retrieval.Intersection))
	}
	if len(res.Retrieval.Union) != 3 {
		t.Errorf("expected 3 possible rows, got %d", len(res.Retrieval.Union))
	}
	if res.Error <= 0 {
		t.Errorf("expected nonzero error while unevaluated rows remain, got %v", res.Error)
	}
}

func TestComputeAggregateCountBounds(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)

	q, err := query.Parse(ctx, e, "SELECT COUNT(*) FROM cars WHERE NLfilter(pic, 'a red vehicle')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	table := "scratch_uf_" + q.Predicates[0].ID()
	partial := map[string]*bool{
		"red_car.jpg":    boolPtr(true),
		"blue_car.jpg":   nil,
		"red_truck.jpg":  nil,
		"blue_truck.jpg": boolPtr(false),
		"green_car.jpg":  boolPtr(false),
	}
	seedScratch(t, e, table, partial)

	res, err := Compute(ctx, e, q)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !res.IsAggregate {
		t.Fatal("expected aggregate result")
	}
	if res.Aggregate.Lower[0] != 1 {
		t.Errorf("expected lower bound 1, got %v", res.Aggregate.Lower[0])
	}
	if res.Aggregate.Upper[0] != 3 {
		t.Errorf("expected upper bound 3, got %v", res.Aggregate.Upper[0])
	}
	if res.Error <= 0 {
		t.Errorf("expected nonzero error, got %v", res.Error)
	}
}

func TestComputeAggregateConvergedHasZeroError(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)

	q, err := query.Parse(ctx, e, "SELECT COUNT(*) FROM cars WHERE NLfilter(pic, 'a red vehicle')")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	table := "scratch_uf_" + q.Predicates[0].ID()
	truth := map[string]*bool{
		"red_car.jpg":    boolPtr(true),
		"blue_car.jpg":   boolPtr(false),
		"red_truck.jpg":  boolPtr(true),
		"blue_truck.jpg": boolPtr(false),
		"green_car.jpg":  boolPtr(false),
	}
	seedScratch(t, e, table, truth)

	res, err := Compute(ctx, e, q)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.Aggregate.Lower[0] != res.Aggregate.Upper[0] {
		t.Fatalf("expected converged bounds, got [%v,%v]", res.Aggregate.Lower[0], res.Aggregate.Upper[0])
	}
	if res.Error != 0 {
		t.Errorf("expected zero error, got %v", res.Error)
	}
}

func TestComputeRetrievalBoundsCappedByLimit(t *testing.T) {
	ctx := context.Background()
	e := newCarsEngine(t)

	q, err := query.Parse(ctx, e, "SELECT pic FROM cars WHERE NLfilter(pic, 'a car') LIMIT 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	table := "scratch_uf_" + q.Predicates[0].ID()
	truth := map[string]*bool{
		"red_car.jpg":    boolPtr(true),
		"blue_car.jpg":   boolPtr(true),
		"red_truck.jpg":  boolPtr(true),
		"blue_truck.jpg": boolPtr(false),
		"green_car.jpg":  boolPtr(false),
	}
	seedScratch(t, e, table, truth)

	res, err := Compute(ctx, e, q)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.Retrieval.LowerCardinality != 2 || res.Retrieval.UpperCardinality != 2 {
		t.Errorf("cardinality bounds = [%d, %d], want [2, 2] (three matches capped by LIMIT 2)",
			res.Retrieval.LowerCardinality, res.Retrieval.UpperCardinality)
	}
	if res.Error != 0 {
		t.Errorf("expected zero error once certain rows satisfy the limit, got %v", res.Error)
	}
}

func TestPositionErrorHandlesZeroSumEdgeCase(t *testing.T) {
	if got := positionError(-2, 2, false); got != 0 {
		t.Errorf("expected 0 error when lower+upper == 0, got %v", got)
	}
	if got := positionError(math.Inf(-1), math.Inf(1), true); got != 1 {
		t.Errorf("expected error 1 when a bound is missing, got %v", got)
	}
	if got := positionError(5, 5, false); got != 0 {
		t.Errorf("expected 0 error when lower == upper, got %v", got)
	}
}

func boolPtr(b bool) *bool { return &b }

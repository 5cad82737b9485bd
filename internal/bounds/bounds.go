// Package bounds computes sound lower/upper result bounds (and an overall
// error scalar) for a query whose semantic predicates have only partially
// been evaluated, by running the rewritten query once per default-bit
// combination and reconciling the runs.
package bounds

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/thalamusdb/thalamusdb/internal/predicate"
	"github.com/thalamusdb/thalamusdb/internal/query"
	"github.com/thalamusdb/thalamusdb/internal/rewriter"
	"github.com/thalamusdb/thalamusdb/internal/store"
	"github.com/thalamusdb/thalamusdb/internal/tdberr"
)

// AggregateBounds holds per-column lower/upper bounds for a query whose
// result is a single row of aggregate values (COUNT, SUM, AVG, ...).
type AggregateBounds struct {
	Columns []string
	Lower   []float64
	Upper   []float64
	// Missing[i] is true when some run produced a NULL for Columns[i],
	// meaning the true bound is unconstrained: (-Inf, +Inf).
	Missing []bool
}

// RetrievalBounds holds the certain (intersection) and possible (union) row
// sets for a query whose result is a row set rather than a single aggregate.
type RetrievalBounds struct {
	Intersection []map[string]any
	Union        []map[string]any
	// LowerCardinality and UpperCardinality are the reported bounds on
	// result cardinality: the intersection and union sizes, each capped at
	// the query's LIMIT when one is present. A query with LIMIT L whose
	// certain rows already reach L has converged even if more rows remain
	// possible.
	LowerCardinality int
	UpperCardinality int
}

// Result is the outcome of one bound-computation round.
type Result struct {
	IsAggregate bool
	Aggregate   *AggregateBounds
	Retrieval   *RetrievalBounds
	// Error is the overall bound-tightness error in [0, 1]; 0 means the
	// bounds have converged to a single, certain answer.
	Error float64
}

// Compute enumerates every default-bit combination for q's predicates, runs
// the corresponding rewritten SQL through engine, and reconciles the runs
// into sound bounds plus an overall error scalar.
func Compute(ctx context.Context, engine *store.Engine, q *query.Query) (*Result, error) {
	combos := rewriter.Combinations(q.Predicates)

	var allRows [][]map[string]any
	var cols []string
	for _, combo := range combos {
		sql, err := rewriter.Rewrite(q, combo)
		if err != nil {
			return nil, err
		}
		rows, rowCols, err := runQuery(ctx, engine, sql)
		if err != nil {
			return nil, err
		}
		if cols == nil {
			cols = rowCols
		}
		allRows = append(allRows, rows)
	}

	if isAggregateResult(allRows) {
		agg := computeAggregateBounds(cols, allRows)
		if err := applyAverageDerivation(ctx, engine, q, combos, agg); err != nil {
			return nil, err
		}
		return &Result{IsAggregate: true, Aggregate: agg, Error: aggregateError(agg)}, nil
	}

	ret := computeRetrievalBounds(allRows, q.Limit)
	return &Result{IsAggregate: false, Retrieval: ret, Error: retrievalError(ret)}, nil
}

func runQuery(ctx context.Context, engine *store.Engine, sql string) ([]map[string]any, []string, error) {
	rows, err := engine.Execute(ctx, sql)
	if err != nil {
		return nil, nil, err
	}
	return store.ScanRows(rows)
}

// isAggregateResult reports whether every run produced exactly one row of
// purely numeric (or NULL) values, the signature of an aggregate query.
func isAggregateResult(allRows [][]map[string]any) bool {
	if len(allRows) == 0 {
		return false
	}
	for _, rows := range allRows {
		if len(rows) != 1 {
			return false
		}
		for _, v := range rows[0] {
			if _, ok := toFloat64(v); !ok && v != nil {
				return false
			}
		}
	}
	return true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func computeAggregateBounds(cols []string, allRows [][]map[string]any) *AggregateBounds {
	agg := &AggregateBounds{
		Columns: cols,
		Lower:   make([]float64, len(cols)),
		Upper:   make([]float64, len(cols)),
		Missing: make([]bool, len(cols)),
	}
	for i, col := range cols {
		lower := math.Inf(1)
		upper := math.Inf(-1)
		missing := false
		for _, rows := range allRows {
			v := rows[0][col]
			if v == nil {
				missing = true
				continue
			}
			f, ok := toFloat64(v)
			if !ok {
				missing = true
				continue
			}
			if f < lower {
				lower = f
			}
			if f > upper {
				upper = f
			}
		}
		if missing {
			agg.Missing[i] = true
			agg.Lower[i] = math.Inf(-1)
			agg.Upper[i] = math.Inf(1)
		} else {
			agg.Lower[i] = lower
			agg.Upper[i] = upper
		}
	}
	return agg
}

func positionError(lower, upper float64, missing bool) float64 {
	if missing {
		return 1
	}
	if lower == upper {
		return 0
	}
	if lower+upper == 0 {
		return 0
	}
	return math.Abs(upper-lower) / (math.Abs(upper) + math.Abs(lower))
}

func aggregateError(agg *AggregateBounds) float64 {
	if len(agg.Columns) == 0 {
		return 0
	}
	var sum float64
	for i := range agg.Columns {
		sum += positionError(agg.Lower[i], agg.Upper[i], agg.Missing[i])
	}
	return sum / float64(len(agg.Columns))
}

// rowKey canonicalizes a result row into a stable string so rows from
// different runs (same columns, possibly different scan order) can be
// compared for set membership.
func rowKey(row map[string]any) string {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%v|", name, row[name])
	}
	return b.String()
}

func computeRetrievalBounds(allRows [][]map[string]any, limit *int) *RetrievalBounds {
	if len(allRows) == 0 {
		return &RetrievalBounds{}
	}

	counts := make(map[string]int)
	rowByKey := make(map[string]map[string]any)
	for _, rows := range allRows {
		seen := make(map[string]bool, len(rows))
		for _, row := range rows {
			key := rowKey(row)
			if seen[key] {
				continue
			}
			seen[key] = true
			counts[key]++
			rowByKey[key] = row
		}
	}

	ret := &RetrievalBounds{}
	for key, n := range counts {
		row := rowByKey[key]
		ret.Union = append(ret.Union, row)
		if n == len(allRows) {
			ret.Intersection = append(ret.Intersection, row)
		}
	}
	ret.LowerCardinality = capCardinality(len(ret.Intersection), limit)
	ret.UpperCardinality = capCardinality(len(ret.Union), limit)
	return ret
}

func capCardinality(n int, limit *int) int {
	if limit != nil && n > *limit {
		return *limit
	}
	return n
}

// retrievalError uses the LIMIT-capped cardinalities: once the certain
// rows alone satisfy the LIMIT, further classification cannot change the
// returned result and the error reads 0.
func retrievalError(ret *RetrievalBounds) float64 {
	union := ret.UpperCardinality
	intersection := ret.LowerCardinality
	if union+intersection == 0 {
		return 0
	}
	return float64(union-intersection) / float64(union+intersection)
}

var avgColumnPattern = regexp.MustCompile(`(?i)^avg\((.+)\)$`)

// applyAverageDerivation tightens any AVG(c) column's bounds using the
// identity AVG = SUM/COUNT: it derives SUM(c) and COUNT(c) bounds by
// substituting the column's expression text in q.QualifiedSQL and rerunning
// every default-bit combination, then sets
// (l_sum/u_count, u_sum/l_count) as the AVG bound, swapping the pair if the
// division produced an inverted (lower > upper) range.
func applyAverageDerivation(ctx context.Context, engine *store.Engine, q *query.Query, combos []rewriter.Defaults, agg *AggregateBounds) error {
	for i, col := range agg.Columns {
		m := avgColumnPattern.FindStringSubmatch(strings.TrimSpace(col))
		if m == nil {
			continue
		}
		inner := m[1]
		sumExpr := "SUM(" + inner + ")"
		countExpr := "COUNT(" + inner + ")"

		if !strings.Contains(q.QualifiedSQL, col) {
			continue
		}
		sumSQL := strings.Replace(q.QualifiedSQL, col, sumExpr, 1)
		countSQL := strings.Replace(q.QualifiedSQL, col, countExpr, 1)

		sumLower, sumUpper, sumMissing, err := boundSingleColumn(ctx, engine, sumSQL, sumExpr, q.Predicates, combos)
		if err != nil {
			return err
		}
		countLower, countUpper, countMissing, err := boundSingleColumn(ctx, engine, countSQL, countExpr, q.Predicates, combos)
		if err != nil {
			return err
		}
		if sumMissing || countMissing || countLower == 0 {
			continue
		}

		lower := sumLower / countUpper
		upper := sumUpper / countLower
		if lower > upper {
			lower, upper = upper, lower
		}
		agg.Lower[i] = lower
		agg.Upper[i] = upper
		agg.Missing[i] = false
	}
	return nil
}

func boundSingleColumn(ctx context.Context, engine *store.Engine, sql, column string, preds []predicate.Predicate, combos []rewriter.Defaults) (lower, upper float64, missing bool, err error) {
	lower = math.Inf(1)
	upper = math.Inf(-1)
	for _, combo := range combos {
		rewritten, err := rewriter.RewriteSQL(sql, preds, combo)
		if err != nil {
			return 0, 0, false, err
		}
		rows, _, err := runQuery(ctx, engine, rewritten)
		if err != nil {
			return 0, 0, false, err
		}
		if len(rows) != 1 {
			return 0, 0, false, tdberr.NewEngineError("derived SUM/COUNT query did not return exactly one row", nil)
		}
		v := rows[0][column]
		if v == nil {
			missing = true
			continue
		}
		f, ok := toFloat64(v)
		if !ok {
			missing = true
			continue
		}
		if f < lower {
			lower = f
		}
		if f > upper {
			upper = f
		}
	}
	return lower, upper, missing, nil
}

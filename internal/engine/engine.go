// Package engine implements the execution loop that drives the iterative
// bounded-evaluation process: create one operator per semantic predicate,
// repeatedly advance them, recompute bounds, and stop once the
// Constraints say so.
package engine

import (
	"context"
	"fmt"

	"github.com/thalamusdb/thalamusdb/internal/bounds"
	"github.com/thalamusdb/thalamusdb/internal/counters"
	"github.com/thalamusdb/thalamusdb/internal/llmclient"
	"github.com/thalamusdb/thalamusdb/internal/operator"
	"github.com/thalamusdb/thalamusdb/internal/predicate"
	"github.com/thalamusdb/thalamusdb/internal/query"
	"github.com/thalamusdb/thalamusdb/internal/rewriter"
	"github.com/thalamusdb/thalamusdb/internal/store"
	"github.com/thalamusdb/thalamusdb/internal/tlog"
)

// DefaultBatchSize is the number of rows (or pairs) each operator
// processes per loop iteration, absent an explicit configuration.
const DefaultBatchSize = 10

// maxConsecutiveNoProgress bounds how many iterations in a row may decide
// zero new rows across every operator before Run gives up and reports
// BudgetExhausted, even under an unlimited budget. Without this guard, a
// classifier that persistently fails to produce a parseable decision
// (tdberr.LLMError, non-transient after retry) together with an
// error-only Constraints would spin forever.
const maxConsecutiveNoProgress = 3

// Result is what Run returns: the best-guess result alongside the
// tightened bounds and the aggregated cost counters, so callers that want
// the full bounds structure (not just a single answer) can use it.
type Result struct {
	Bounds            *bounds.Result
	BestGuessColumns  []string
	BestGuessRows     []map[string]any
	Counters          counters.Counters
	Iterations        int
	BudgetExhausted   bool
}

// Run executes q against engine, creating one operator per semantic
// predicate, looping execute→rewrite→bounds until constraints says to
// stop, and returning the best-guess result (every predicate defaulted to
// 1) plus aggregated counters. Scratch tables and operators are dropped
// before Run returns, even on error paths.
func Run(
	ctx context.Context,
	eng *store.Engine,
	classifier llmclient.Classifier,
	q *query.Query,
	constraints Constraints,
	batchSize int,
	logger tlog.Logger,
) (*Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ops, err := createOperators(eng, classifier, q)
	if err != nil {
		return nil, err
	}
	defer cleanup(ctx, eng, ops, logger)

	for _, op := range ops {
		if err := op.Prepare(ctx); err != nil {
			return nil, err
		}
	}

	sw := counters.NewStopwatch()
	var boundResult *bounds.Result
	var total counters.Counters
	iterations := 0
	noProgressRounds := 0
	budgetExhausted := false

	for {
		if ctx.Err() != nil {
			break
		}

		progressedThisRound := 0
		for _, op := range ops {
			n, err := op.Execute(ctx, batchSize, nil)
			if err != nil {
				return nil, err
			}
			progressedThisRound += n
		}
		iterations++

		boundResult, err = bounds.Compute(ctx, eng, q)
		if err != nil {
			return nil, err
		}

		total = counters.Sum(operatorCounters(ops))
		elapsed := sw.Elapsed()
		total.ExecutionSeconds = elapsed

		logger.InfoContext(ctx, "bound round complete",
			"iteration", iterations, "error", boundResult.Error,
			"llm_calls", total.LLMCalls, "progressed", progressedThisRound)

		if constraints.Terminate(total, elapsed, boundResult.Error) {
			break
		}

		if progressedThisRound == 0 {
			// A non-progressing iteration is a soft failure: with a budget
			// configured, keep going and let the budget exhaust; without
			// one, give up after a few consecutive dead rounds.
			noProgressRounds++
			if !constraints.hasBudget() && noProgressRounds >= maxConsecutiveNoProgress {
				logger.WarnContext(ctx, "no progress across operators, stopping short of error threshold",
					"iteration", iterations, "error", boundResult.Error)
				budgetExhausted = true
				break
			}
		} else {
			noProgressRounds = 0
		}
	}

	bestSQL, err := rewriter.Rewrite(q, rewriter.AllDefaults(q.Predicates, 1))
	if err != nil {
		return nil, err
	}
	bestRows, err := eng.Execute(ctx, bestSQL)
	if err != nil {
		return nil, err
	}
	rows, cols, err := store.ScanRows(bestRows)
	if err != nil {
		return nil, err
	}

	return &Result{
		Bounds:           boundResult,
		BestGuessColumns: cols,
		BestGuessRows:    rows,
		Counters:         total,
		Iterations:       iterations,
		BudgetExhausted:  budgetExhausted,
	}, nil
}

func createOperators(eng *store.Engine, classifier llmclient.Classifier, q *query.Query) ([]operator.Operator, error) {
	ops := make([]operator.Operator, 0, len(q.Predicates))
	for _, p := range q.Predicates {
		switch pr := p.(type) {
		case *predicate.Unary:
			ops = append(ops, operator.NewUnaryFilter(eng, classifier, q, pr))
		case *predicate.Join:
			ops = append(ops, operator.NewJoin(eng, classifier, q, pr))
		default:
			return nil, fmt.Errorf("unknown predicate type %T", p)
		}
	}
	return ops, nil
}

func operatorCounters(ops []operator.Operator) []counters.Counters {
	out := make([]counters.Counters, len(ops))
	for i, op := range ops {
		out[i] = op.Counters()
	}
	return out
}

func cleanup(ctx context.Context, eng *store.Engine, ops []operator.Operator, logger tlog.Logger) {
	for _, op := range ops {
		if err := eng.Exec(ctx, "DROP TABLE IF EXISTS "+op.ScratchTable()); err != nil {
			logger.WarnContext(ctx, "failed to drop scratch table", "table", op.ScratchTable(), "error", err)
		}
	}
}

// Package operator implements the two semantic-predicate operators,
// UnaryFilter and Join, which own a scratch table each and advance its
// rows from Unknown to Decided by calling an LLM classifier. Both satisfy
// the same Operator capability set; there is no third variant, so a
// two-case interface is preferred over a registry.
package operator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thalamusdb/thalamusdb/internal/counters"
	"github.com/thalamusdb/thalamusdb/internal/llmclient"
	"github.com/thalamusdb/thalamusdb/internal/predicate"
	"github.com/thalamusdb/thalamusdb/internal/query"
	"github.com/thalamusdb/thalamusdb/internal/store"
	"github.com/thalamusdb/thalamusdb/internal/tdberr"
)

// retryLimit bounds how many LLM call attempts (the first call included)
// a single row gets before the row is left Unknown for the round.
const retryLimit = 3

const retryBackoff = 20 * time.Millisecond

// OrderHint is an optional hint to Execute about which rows to prefer
// within one batch. It never affects bound soundness, only which
// unevaluated rows are classified first.
type OrderHint struct {
	Column    string
	Ascending bool
}

// Operator is the capability set shared by UnaryFilter and Join: create
// the scratch table, advance up to n rows, and report accumulated cost.
type Operator interface {
	Predicate() predicate.Predicate
	ScratchTable() string
	Prepare(ctx context.Context) error
	// Execute classifies up to n distinct Unknown values (or value pairs),
	// deciding every row that carries them, and returns how many distinct
	// values were decided (0 when every row was already decided or the
	// round encountered only persistent LLM failures).
	Execute(ctx context.Context, n int, order *OrderHint) (int, error)
	Counters() counters.Counters
}

// UnaryFilter evaluates a Unary predicate: one scratch table keyed by the
// filtered column's value, populated from the base table restricted to
// the alias's pushed-down pure-SQL conjuncts.
type UnaryFilter struct {
	engine      *store.Engine
	classifier  llmclient.Classifier
	pred        *predicate.Unary
	table       string
	aliasFilter string

	cnt counters.Counters
}

var _ Operator = (*UnaryFilter)(nil)

// NewUnaryFilter builds the operator for pred within q, using engine for
// scratch-table DDL/DML and classifier for LLM decisions.
func NewUnaryFilter(engine *store.Engine, classifier llmclient.Classifier, q *query.Query, pred *predicate.Unary) *UnaryFilter {
	filter := q.AliasFilters[pred.Alias]
	if filter == "" {
		filter = "TRUE"
	}
	return &UnaryFilter{
		engine:      engine,
		classifier:  classifier,
		pred:        pred,
		table:       predicate.ScratchTableName(pred),
		aliasFilter: filter,
	}
}

func (u *UnaryFilter) Predicate() predicate.Predicate { return u.pred }

func (u *UnaryFilter) ScratchTable() string { return u.table }

func (u *UnaryFilter) Counters() counters.Counters { return u.cnt }

// Prepare creates the scratch table and inserts the image of
// base_table AS alias WHERE alias's pushed-down pure-SQL conjuncts,
// leaving result and simulated NULL for every row.
func (u *UnaryFilter) Prepare(ctx context.Context) error {
	cols, err := u.engine.Columns(ctx, u.pred.Table)
	if err != nil {
		return err
	}

	schemaParts := []string{"result BOOLEAN", "simulated BOOLEAN"}
	selectCols := make([]string, 0, len(cols))
	for _, c := range cols {
		schemaParts = append(schemaParts, fmt.Sprintf("base_%s %s", c.Name, c.Type))
		selectCols = append(selectCols, c.Name)
	}

	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", u.table, strings.Join(schemaParts, ", "))
	if err := u.engine.Exec(ctx, createSQL); err != nil {
		return err
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s SELECT NULL, NULL, %s FROM %s AS %s WHERE %s",
		u.table, strings.Join(selectCols, ", "), u.pred.Table, u.pred.Alias, u.aliasFilter,
	)
	return u.engine.Exec(ctx, insertSQL)
}

// Execute selects up to n distinct base_<col> values with result IS NULL,
// classifies each with the LLM, and updates every scratch row sharing
// that value in one UPDATE keyed by value (not row id).
func (u *UnaryFilter) Execute(ctx context.Context, n int, order *OrderHint) (int, error) {
	orderSQL := orderClause(order)
	// DISTINCT: duplicate values share one decision, so fetching a value
	// once per batch keeps the call count at one per distinct value.
	selectSQL := fmt.Sprintf(
		"SELECT DISTINCT base_%s FROM %s WHERE result IS NULL%s LIMIT %d",
		u.pred.Column, u.table, orderSQL, n,
	)
	rows, err := u.engine.Execute(ctx, selectSQL)
	if err != nil {
		return 0, err
	}
	values, _, err := store.ScanRows(rows)
	if err != nil {
		return 0, err
	}

	col := "base_" + u.pred.Column
	progressed := 0
	for _, row := range values {
		if err := ctx.Err(); err != nil {
			return progressed, nil
		}
		val := row[col]
		item := itemForValue(val)
		decision, err := classifyWithRetry(ctx, &u.cnt, func(ctx context.Context) (int, int, int, error) {
			return u.classifier.Classify(ctx, u.pred.Condition(), item)
		})
		if err != nil {
			// Persistent LLM failure: row stays Unknown this round.
			continue
		}
		updateSQL := fmt.Sprintf("UPDATE %s SET result = ?, simulated = ? WHERE base_%s = ?", u.table, u.pred.Column)
		decided := decision == 1
		if err := u.engine.Exec(ctx, updateSQL, decided, decided, val); err != nil {
			return progressed, err
		}
		progressed++
	}
	return progressed, nil
}

// Join evaluates a Join predicate over the Cartesian product of its two
// base tables, keyed by the (left_<col>, right_<col>) value pair.
type Join struct {
	engine                  *store.Engine
	classifier              llmclient.Classifier
	pred                    *predicate.Join
	table                   string
	leftFilter, rightFilter string

	cnt counters.Counters
}

var _ Operator = (*Join)(nil)

// NewJoin builds the operator for pred within q.
func NewJoin(engine *store.Engine, classifier llmclient.Classifier, q *query.Query, pred *predicate.Join) *Join {
	left := q.AliasFilters[pred.LeftAlias]
	if left == "" {
		left = "TRUE"
	}
	right := q.AliasFilters[pred.RightAlias]
	if right == "" {
		right = "TRUE"
	}
	return &Join{
		engine:      engine,
		classifier:  classifier,
		pred:        pred,
		table:       predicate.ScratchTableName(pred),
		leftFilter:  left,
		rightFilter: right,
	}
}

func (j *Join) Predicate() predicate.Predicate { return j.pred }

func (j *Join) ScratchTable() string { return j.table }

func (j *Join) Counters() counters.Counters { return j.cnt }

// Prepare creates the scratch table over the Cartesian product of the
// left and right base tables, pushing down each side's alias-local
// pure-SQL filters.
func (j *Join) Prepare(ctx context.Context) error {
	leftCols, err := j.engine.Columns(ctx, j.pred.LeftTable)
	if err != nil {
		return err
	}
	rightCols, err := j.engine.Columns(ctx, j.pred.RightTable)
	if err != nil {
		return err
	}

	schemaParts := []string{"result BOOLEAN", "simulated BOOLEAN"}
	selectCols := make([]string, 0, len(leftCols)+len(rightCols))
	for _, c := range leftCols {
		schemaParts = append(schemaParts, fmt.Sprintf("left_%s %s", c.Name, c.Type))
		selectCols = append(selectCols, j.pred.LeftAlias+"."+c.Name)
	}
	for _, c := range rightCols {
		schemaParts = append(schemaParts, fmt.Sprintf("right_%s %s", c.Name, c.Type))
		selectCols = append(selectCols, j.pred.RightAlias+"."+c.Name)
	}

	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", j.table, strings.Join(schemaParts, ", "))
	if err := j.engine.Exec(ctx, createSQL); err != nil {
		return err
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s SELECT NULL, NULL, %s FROM %s AS %s, %s AS %s WHERE (%s) AND (%s)",
		j.table, strings.Join(selectCols, ", "),
		j.pred.LeftTable, j.pred.LeftAlias, j.pred.RightTable, j.pred.RightAlias,
		j.leftFilter, j.rightFilter,
	)
	return j.engine.Exec(ctx, insertSQL)
}

// Execute pops up to n pairs with result IS NULL, asks the LLM with both
// encoded items, and writes the decision keyed by the (left, right) value
// pair. Evaluation order does not affect correctness.
func (j *Join) Execute(ctx context.Context, n int, order *OrderHint) (int, error) {
	orderSQL := orderClause(order)
	leftCol := "left_" + j.pred.LeftColumn
	rightCol := "right_" + j.pred.RightColumn
	selectSQL := fmt.Sprintf(
		"SELECT DISTINCT %s, %s FROM %s WHERE result IS NULL%s LIMIT %d",
		leftCol, rightCol, j.table, orderSQL, n,
	)
	rows, err := j.engine.Execute(ctx, selectSQL)
	if err != nil {
		return 0, err
	}
	values, _, err := store.ScanRows(rows)
	if err != nil {
		return 0, err
	}

	progressed := 0
	for _, row := range values {
		if err := ctx.Err(); err != nil {
			return progressed, nil
		}
		leftVal, rightVal := row[leftCol], row[rightCol]
		leftItem := itemForValue(leftVal)
		rightItem := itemForValue(rightVal)
		decision, err := classifyWithRetry(ctx, &j.cnt, func(ctx context.Context) (int, int, int, error) {
			return j.classifier.ClassifyPair(ctx, j.pred.Condition(), leftItem, rightItem)
		})
		if err != nil {
			continue
		}
		updateSQL := fmt.Sprintf(
			"UPDATE %s SET result = ?, simulated = ? WHERE %s = ? AND %s = ?",
			j.table, leftCol, rightCol,
		)
		decided := decision == 1
		if err := j.engine.Exec(ctx, updateSQL, decided, decided, leftVal, rightVal); err != nil {
			return progressed, err
		}
		progressed++
	}
	return progressed, nil
}

func orderClause(order *OrderHint) string {
	if order == nil {
		return ""
	}
	dir := "DESC"
	if order.Ascending {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", order.Column, dir)
}

// classifyFunc performs one classification attempt.
type classifyFunc func(ctx context.Context) (decision, promptTokens, completionTokens int, err error)

// classifyWithRetry makes up to retryLimit attempts in all, with a short
// fixed backoff between them; any error other than a non-transient
// tdberr.LLMError is retried. A non-transient LLMError, or exhaustion
// of the retry budget, is returned to the caller and leaves the row
// Unknown. Every attempt is one LLM call, so cnt is updated per attempt
// and token usage accumulates across retries.
func classifyWithRetry(ctx context.Context, cnt *counters.Counters, classify classifyFunc) (int, error) {
	var lastErr error
	for attempt := 0; attempt < retryLimit; attempt++ {
		decision, pTok, cTok, err := classify(ctx)
		cnt.LLMCalls++
		cnt.InputTokens += pTok
		cnt.OutputTokens += cTok
		if err == nil {
			return decision, nil
		}
		lastErr = err
		if llmErr, ok := err.(*tdberr.LLMError); ok && !llmErr.Transient {
			return 0, err
		}
		if attempt < retryLimit-1 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
	return 0, lastErr
}

// itemForValue encodes a scratch-table cell value as an LLM item: a
// value ending in ".jpeg" is treated as an image path, read from disk,
// and sent as bytes; everything else is sent as text.
func itemForValue(v any) llmclient.Item {
	s := toText(v)
	if strings.HasSuffix(strings.ToLower(s), ".jpeg") {
		if data, err := os.ReadFile(s); err == nil {
			return llmclient.ImageItem("image/jpeg", data)
		}
	}
	return llmclient.TextItem(s)
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

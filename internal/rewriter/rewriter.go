// Package rewriter turns a parsed query plus a default-bit assignment for
// every semantic predicate into a single, ordinary SQL string the
// underlying engine can execute directly.
package rewriter

import (
	"fmt"
	"strings"

	"github.com/thalamusdb/thalamusdb/internal/predicate"
	"github.com/thalamusdb/thalamusdb/internal/query"
	"github.com/thalamusdb/thalamusdb/internal/tdberr"
)

// Defaults maps each predicate to the speculative bit (0 or 1) assigned to
// its still-unevaluated rows for one bound-computation run.
type Defaults map[predicate.Predicate]int

// Rewrite replaces every semantic predicate's captured original SQL in
// q.QualifiedSQL with a membership expression over its scratch table,
// parameterized by the predicate's default bit in defaults.
func Rewrite(q *query.Query, defaults Defaults) (string, error) {
	return RewriteSQL(q.QualifiedSQL, q.Predicates, defaults)
}

// RewriteSQL applies the same substitution as Rewrite against an arbitrary
// SQL string, as long as it still contains every predicate's original SQL
// substring. Used by the bound computer to derive SUM/COUNT variants of a
// query containing AVG for AVG bound derivation, without re-parsing.
func RewriteSQL(sql string, preds []predicate.Predicate, defaults Defaults) (string, error) {
	for _, p := range preds {
		bit, ok := defaults[p]
		if !ok {
			return "", tdberr.NewEngineError(fmt.Sprintf("missing default bit for predicate %s", p.ID()), nil)
		}
		replacement := membershipExpr(p, bit)
		original := p.OriginalSQL()
		if !strings.Contains(sql, original) {
			return "", tdberr.NewEngineError(fmt.Sprintf("original SQL for predicate %s not found in query", p.ID()), nil)
		}
		sql = strings.Replace(sql, original, replacement, 1)
	}
	return sql, nil
}

func membershipExpr(p predicate.Predicate, bit int) string {
	table := predicate.ScratchTableName(p)
	switch pr := p.(type) {
	case *predicate.Unary:
		condition := "result IS TRUE"
		if bit == 1 {
			condition = "result IS TRUE OR result IS NULL"
		}
		return fmt.Sprintf("%s.%s IN (SELECT base_%s FROM %s WHERE %s)",
			pr.Alias, pr.Column, pr.Column, table, condition)
	case *predicate.Join:
		condition := "result IS TRUE"
		if bit == 1 {
			condition = "result IS TRUE OR result IS NULL"
		}
		return fmt.Sprintf("(%s.%s, %s.%s) IN (SELECT left_%s, right_%s FROM %s WHERE %s)",
			pr.LeftAlias, pr.LeftColumn, pr.RightAlias, pr.RightColumn,
			pr.LeftColumn, pr.RightColumn, table, condition)
	default:
		return ""
	}
}

// AllDefaults builds a Defaults map assigning bit to every predicate in
// preds, the shorthand used for the all-TRUE/all-FALSE equivalence runs
// and for the engine's best-guess (default=1) result.
func AllDefaults(preds []predicate.Predicate, bit int) Defaults {
	d := make(Defaults, len(preds))
	for _, p := range preds {
		d[p] = bit
	}
	return d
}

// Combinations enumerates every one of the 2^k default-bit assignments for
// preds, in binary-counter order: bit j of the combination index selects
// the default for preds[j].
func Combinations(preds []predicate.Predicate) []Defaults {
	k := len(preds)
	if k == 0 {
		return []Defaults{{}}
	}
	total := 1 << uint(k)
	out := make([]Defaults, 0, total)
	for i := 0; i < total; i++ {
		d := make(Defaults, k)
		for j, p := range preds {
			d[p] = (i >> uint(j)) & 1
		}
		out = append(out, d)
	}
	return out
}

// Package query parses a SQL string into a qualified Query: every column
// gets an explicit table alias, every semantic predicate (NLfilter/NLjoin
// call) is extracted with its exact serialized SQL, and top-level WHERE
// conjuncts that reference exactly one alias are split out for pushdown.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/thalamusdb/thalamusdb/internal/predicate"
	"github.com/thalamusdb/thalamusdb/internal/tdberr"
)

// SchemaProvider is the narrow capability the parser needs from the
// underlying engine: the column set of every base table, used to resolve
// unqualified column references during qualification.
type SchemaProvider interface {
	Schema(ctx context.Context) (map[string]map[string]string, error)
}

// Query is a parsed and qualified SELECT statement.
type Query struct {
	// QualifiedSQL is the full statement with every column qualified by
	// its alias, NLfilter/NLjoin calls left intact (the rewriter
	// string-substitutes their OriginalSQL later).
	QualifiedSQL string
	// Alias2Table maps every FROM-clause alias to its base table name.
	Alias2Table map[string]string
	// Predicates is the list of semantic predicates found anywhere in the
	// statement, in the order the AST walk encounters them.
	Predicates []predicate.Predicate
	// AliasFilters holds, per alias, the AND-chain of pure-SQL unary
	// conjuncts that reference only that alias ("TRUE" if none).
	AliasFilters map[string]string
	// Limit is the integer LIMIT if the query has one with a literal
	// bound, or nil for "no limit" (treated as +∞).
	Limit *int

	stmt *sqlparser.Select
}

// Parse parses, qualifies, and extracts the semantic predicates of sql
// against the schema reported by provider.
func Parse(ctx context.Context, provider SchemaProvider, sql string) (*Query, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, tdberr.NewParseError("failed to parse SQL", err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, tdberr.NewParseError(fmt.Sprintf("only SELECT statements carry semantic predicates, got %T", stmt), nil)
	}

	if err := rejectSemanticSubqueries(sel); err != nil {
		return nil, err
	}
	if err := checkSelectAggregates(sel); err != nil {
		return nil, err
	}

	schema, err := provider.Schema(ctx)
	if err != nil {
		return nil, err
	}

	alias2table, err := collectAliases(sel.From)
	if err != nil {
		return nil, err
	}

	if err := qualifyColumns(sel, alias2table, schema); err != nil {
		return nil, err
	}

	predicates, err := extractPredicates(sel, alias2table)
	if err != nil {
		return nil, err
	}

	aliasFilters, err := splitUnaryConjuncts(sel, alias2table, predicates)
	if err != nil {
		return nil, err
	}

	limit, err := extractLimit(sel.Limit)
	if err != nil {
		return nil, err
	}

	return &Query{
		QualifiedSQL: sqlparser.String(sel),
		Alias2Table:  alias2table,
		Predicates:   predicates,
		AliasFilters: aliasFilters,
		Limit:        limit,
		stmt:         sel,
	}, nil
}

// rejectSemanticSubqueries refuses any statement where an NLfilter/NLjoin
// call sits inside a subquery: semantic predicates are only supported at
// the top level.
func rejectSemanticSubqueries(sel *sqlparser.Select) error {
	var found error
	sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		sub, ok := node.(*sqlparser.Subquery)
		if !ok {
			return true, nil
		}
		sqlparser.Walk(func(inner sqlparser.SQLNode) (bool, error) {
			fn, ok := inner.(*sqlparser.FuncExpr)
			if !ok {
				return true, nil
			}
			switch strings.ToLower(fn.Name.String()) {
			case "nlfilter", "nljoin":
				found = tdberr.NewParseError("subqueries containing semantic predicates are not supported", nil)
				return false, found
			}
			return true, nil
		}, sub)
		if found != nil {
			return false, found
		}
		return false, nil
	}, sel)
	return found
}

var allowedAggregates = map[string]bool{
	"count": true,
	"sum":   true,
	"min":   true,
	"max":   true,
	"avg":   true,
}

// checkSelectAggregates rejects top-level aggregate functions the bound
// computer cannot reconcile (anything outside COUNT/SUM/MIN/MAX/AVG).
func checkSelectAggregates(sel *sqlparser.Select) error {
	for _, se := range sel.SelectExprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			continue
		}
		// GROUP_CONCAT parses to its own node type, not a FuncExpr.
		if _, ok := ae.Expr.(*sqlparser.GroupConcatExpr); ok {
			return tdberr.NewParseError("unsupported aggregate GROUP_CONCAT", nil)
		}
		fn, ok := ae.Expr.(*sqlparser.FuncExpr)
		if !ok {
			continue
		}
		if fn.IsAggregate() && !allowedAggregates[strings.ToLower(fn.Name.String())] {
			return tdberr.NewParseError(fmt.Sprintf("unsupported aggregate %s", fn.Name.String()), nil)
		}
	}
	return nil
}

// collectAliases walks the FROM clause and maps every alias (or bare table
// name when unaliased) to its base table. Subqueries are rejected: they
// are explicitly out of scope for semantic predicates.
func collectAliases(tables sqlparser.TableExprs) (map[string]string, error) {
	out := make(map[string]string)
	var walk func(expr sqlparser.TableExpr) error
	walk = func(expr sqlparser.TableExpr) error {
		switch t := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			tn, ok := t.Expr.(sqlparser.TableName)
			if !ok {
				return tdberr.NewParseError("subqueries in FROM are not supported", nil)
			}
			table := tn.Name.String()
			alias := table
			if !t.As.IsEmpty() {
				alias = t.As.String()
			}
			alias = strings.ToLower(alias)
			if _, exists := out[alias]; exists {
				return tdberr.NewParseError(fmt.Sprintf("duplicate alias %q", alias), nil)
			}
			out[alias] = table
			return nil
		case *sqlparser.JoinTableExpr:
			if err := walk(t.LeftExpr); err != nil {
				return err
			}
			return walk(t.RightExpr)
		case *sqlparser.ParenTableExpr:
			for _, e := range t.Exprs {
				if err := walk(e); err != nil {
					return err
				}
			}
			return nil
		default:
			return tdberr.NewParseError(fmt.Sprintf("unsupported FROM expression %T", expr), nil)
		}
	}
	for _, t := range tables {
		if err := walk(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// qualifyColumns mutates every unqualified ColName in sel to carry an
// explicit alias, resolved either trivially (exactly one alias in scope)
// or by checking which aliased table's schema declares the column.
func qualifyColumns(sel *sqlparser.Select, alias2table map[string]string, schema map[string]map[string]string) error {
	var walkErr error
	sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		col, ok := node.(*sqlparser.ColName)
		if !ok {
			return true, nil
		}
		if !col.Qualifier.Name.IsEmpty() {
			// Already qualified by the user; normalize casing so it
			// matches the lowercased keys in alias2table.
			col.Qualifier = sqlparser.TableName{Name: sqlparser.NewTableIdent(strings.ToLower(col.Qualifier.Name.String()))}
			return true, nil
		}
		alias, err := resolveColumnAlias(col.Name.String(), alias2table, schema)
		if err != nil {
			walkErr = err
			return false, err
		}
		col.Qualifier = sqlparser.TableName{Name: sqlparser.NewTableIdent(alias)}
		return true, nil
	}, sel)
	return walkErr
}

func resolveColumnAlias(column string, alias2table map[string]string, schema map[string]map[string]string) (string, error) {
	if len(alias2table) == 1 {
		for alias := range alias2table {
			return alias, nil
		}
	}
	var match string
	matches := 0
	for alias, table := range alias2table {
		if cols, ok := schema[table]; ok {
			if _, ok := cols[column]; ok {
				match = alias
				matches++
			}
		}
	}
	if matches == 0 {
		return "", tdberr.NewSchemaError(fmt.Sprintf("unresolvable column %q", column), nil)
	}
	if matches > 1 {
		return "", tdberr.NewParseError(fmt.Sprintf("ambiguous column %q", column), nil)
	}
	return match, nil
}

// extractPredicates walks the already-qualified statement for
// nlfilter(...)/nljoin(...) calls, building Unary/Join predicates in the
// order encountered and capturing their exact serialized SQL.
func extractPredicates(sel *sqlparser.Select, alias2table map[string]string) ([]predicate.Predicate, error) {
	var preds []predicate.Predicate
	var walkErr error
	counter := 0

	sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		fn, ok := node.(*sqlparser.FuncExpr)
		if !ok {
			return true, nil
		}
		name := strings.ToLower(fn.Name.String())
		switch name {
		case "nlfilter":
			p, err := buildUnary(fn, counter, alias2table)
			if err != nil {
				walkErr = err
				return false, err
			}
			counter++
			preds = append(preds, p)
		case "nljoin":
			p, err := buildJoin(fn, counter, alias2table)
			if err != nil {
				walkErr = err
				return false, err
			}
			counter++
			preds = append(preds, p)
		}
		return true, nil
	}, sel)

	return preds, walkErr
}

func buildUnary(fn *sqlparser.FuncExpr, id int, alias2table map[string]string) (*predicate.Unary, error) {
	if len(fn.Exprs) != 2 {
		return nil, tdberr.NewParseError("nlfilter expects (column, condition)", nil)
	}
	col, err := aliasedColumn(fn.Exprs[0], alias2table)
	if err != nil {
		return nil, err
	}
	cond, err := aliasedStringLiteral(fn.Exprs[1])
	if err != nil {
		return nil, err
	}
	return &predicate.Unary{
		Table:           col.table,
		Alias:           col.alias,
		Column:          col.column,
		ConditionText:   cond,
		OriginalSQLText: sqlparser.String(fn),
		Ident:           strconv.Itoa(id),
	}, nil
}

func buildJoin(fn *sqlparser.FuncExpr, id int, alias2table map[string]string) (*predicate.Join, error) {
	if len(fn.Exprs) != 3 {
		return nil, tdberr.NewParseError("nljoin expects (left column, right column, condition)", nil)
	}
	left, err := aliasedColumn(fn.Exprs[0], alias2table)
	if err != nil {
		return nil, err
	}
	right, err := aliasedColumn(fn.Exprs[1], alias2table)
	if err != nil {
		return nil, err
	}
	cond, err := aliasedStringLiteral(fn.Exprs[2])
	if err != nil {
		return nil, err
	}
	return &predicate.Join{
		LeftTable:       left.table,
		LeftAlias:       left.alias,
		LeftColumn:      left.column,
		RightTable:      right.table,
		RightAlias:      right.alias,
		RightColumn:     right.column,
		ConditionText:   cond,
		OriginalSQLText: sqlparser.String(fn),
		Ident:           strconv.Itoa(id),
	}, nil
}

type qualifiedColumn struct {
	alias  string
	table  string
	column string
}

func aliasedColumn(expr sqlparser.SelectExpr, alias2table map[string]string) (qualifiedColumn, error) {
	ae, ok := expr.(*sqlparser.AliasedExpr)
	if !ok {
		return qualifiedColumn{}, tdberr.NewParseError("expected a column argument", nil)
	}
	col, ok := ae.Expr.(*sqlparser.ColName)
	if !ok {
		return qualifiedColumn{}, tdberr.NewParseError("expected a column argument", nil)
	}
	alias := col.Qualifier.Name.String()
	return qualifiedColumn{
		alias:  alias,
		table:  alias2table[alias],
		column: col.Name.String(),
	}, nil
}

func aliasedStringLiteral(expr sqlparser.SelectExpr) (string, error) {
	ae, ok := expr.(*sqlparser.AliasedExpr)
	if !ok {
		return "", tdberr.NewParseError("expected a string literal argument", nil)
	}
	val, ok := ae.Expr.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.StrVal {
		return "", tdberr.NewParseError("expected a string literal argument", nil)
	}
	return string(val.Val), nil
}

// splitUnaryConjuncts walks the top-level WHERE AND-chain and, for every
// conjunct that is not itself a semantic predicate call and references
// columns from exactly one alias, appends it to that alias's AND-chain.
func splitUnaryConjuncts(sel *sqlparser.Select, alias2table map[string]string, preds []predicate.Predicate) (map[string]string, error) {
	out := make(map[string]string, len(alias2table))
	for alias := range alias2table {
		out[alias] = "TRUE"
	}
	if sel.Where == nil {
		return out, nil
	}

	predOriginals := make(map[string]bool, len(preds))
	for _, p := range preds {
		predOriginals[p.OriginalSQL()] = true
	}

	var conjuncts []sqlparser.Expr
	var flatten func(expr sqlparser.Expr)
	flatten = func(expr sqlparser.Expr) {
		if and, ok := expr.(*sqlparser.AndExpr); ok {
			flatten(and.Left)
			flatten(and.Right)
			return
		}
		conjuncts = append(conjuncts, expr)
	}
	flatten(sel.Where.Expr)

	for _, c := range conjuncts {
		serialized := sqlparser.String(c)
		if predOriginals[serialized] {
			continue
		}
		aliases := referencedAliases(c)
		if len(aliases) != 1 {
			continue
		}
		var only string
		for a := range aliases {
			only = a
		}
		if _, ok := alias2table[only]; !ok {
			continue
		}
		if out[only] == "TRUE" {
			out[only] = serialized
		} else {
			out[only] = out[only] + " AND " + serialized
		}
	}
	return out, nil
}

func referencedAliases(expr sqlparser.Expr) map[string]bool {
	aliases := make(map[string]bool)
	sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if col, ok := node.(*sqlparser.ColName); ok {
			if !col.Qualifier.Name.IsEmpty() {
				aliases[col.Qualifier.Name.String()] = true
			}
		}
		return true, nil
	}, expr)
	return aliases
}

func extractLimit(limit *sqlparser.Limit) (*int, error) {
	if limit == nil || limit.Rowcount == nil {
		return nil, nil
	}
	val, ok := limit.Rowcount.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return nil, nil
	}
	n, err := strconv.Atoi(string(val.Val))
	if err != nil {
		return nil, nil
	}
	return &n, nil
}

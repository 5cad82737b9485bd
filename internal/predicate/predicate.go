// Package predicate defines the closed set of semantic predicate kinds
// ThalamusDB can evaluate via an LLM: unary filters over one column and
// equijoin-style conditions over two columns from two aliases.
package predicate

// Predicate is implemented by exactly two types, Unary and Join. It is a
// closed sum type rather than an open/pluggable interface: the grammar
// only ever produces NLfilter or NLjoin calls, so there is nothing for a
// registry to register.
type Predicate interface {
	isPredicate()
	// ID is a stable, unique label for the predicate within one query,
	// used to name its scratch table and as a map key for default bits.
	ID() string
	// OriginalSQL is the exact serialized call the rewriter will
	// string-substitute, captured at parse time.
	OriginalSQL() string
	// Condition is the natural-language condition text passed to the LLM.
	Condition() string
}

// Unary is a semantic filter on a single column: NLfilter(alias.column, 'condition').
type Unary struct {
	Table           string
	Alias           string
	Column          string
	ConditionText   string
	OriginalSQLText string
	Ident           string
}

func (u *Unary) isPredicate() {}

func (u *Unary) ID() string { return u.Ident }

func (u *Unary) OriginalSQL() string { return u.OriginalSQLText }

func (u *Unary) Condition() string { return u.ConditionText }

// Join is a semantic equijoin-style predicate over two columns from
// (usually) different aliases: NLjoin(l.col, r.col, 'condition').
type Join struct {
	LeftTable  string
	LeftAlias  string
	LeftColumn string

	RightTable  string
	RightAlias  string
	RightColumn string

	ConditionText   string
	OriginalSQLText string
	Ident           string
}

func (j *Join) isPredicate() {}

func (j *Join) ID() string { return j.Ident }

func (j *Join) OriginalSQL() string { return j.OriginalSQLText }

func (j *Join) Condition() string { return j.ConditionText }

// ScratchTableName returns the session-temporary table name owned by the
// operator evaluating p: scratch_uf_<id> for a Unary predicate and
// scratch_j_<id> for a Join.
func ScratchTableName(p Predicate) string {
	switch p.(type) {
	case *Unary:
		return "scratch_uf_" + p.ID()
	case *Join:
		return "scratch_j_" + p.ID()
	default:
		return "scratch_" + p.ID()
	}
}

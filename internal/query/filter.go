package query

import "fmt"

// Filter is a boolean predicate over rows. Every filter has two
// interpretations that must agree: Match evaluates it against a fetched row
// and Compile renders it as a SQL condition.
type Filter interface {
	fmt.Stringer
	filter()
}

type cmpOp string

const (
	opEq  cmpOp = "="
	opNe  cmpOp = "<>"
	opGt  cmpOp = ">"
	opGte cmpOp = ">="
	opLt  cmpOp = "<"
	opLte cmpOp = "<="
)

type cmpFilter struct {
	Column string
	Op     cmpOp
	Value  any
}

type inFilter struct {
	Column string
	Values []any
}

type nullFilter struct {
	Column string
	IsNull bool
}

type containsFilter struct {
	Column string
	Text   string
}

type andFilter struct {
	Filters []Filter
}

type orFilter struct {
	Filters []Filter
}

type notFilter struct {
	Filter Filter
}

type constFilter struct {
	Value bool
}

type relatedFilter struct {
	Field  string
	Link   Link
	Filter Filter
}

func (cmpFilter) filter()      {}
func (inFilter) filter()       {}
func (nullFilter) filter()     {}
func (containsFilter) filter() {}
func (andFilter) filter()      {}
func (orFilter) filter()       {}
func (notFilter) filter()      {}
func (constFilter) filter()    {}
func (relatedFilter) filter()  {}

// Eq matches column = value. A nil value matches null columns.
func Eq(column string, value any) Filter {
	if normalize(value) == nil {
		return IsNull(column)
	}
	return cmpFilter{Column: column, Op: opEq, Value: value}
}

// Ne matches column <> value; null columns never match.
func Ne(column string, value any) Filter {
	if normalize(value) == nil {
		return NotNull(column)
	}
	return cmpFilter{Column: column, Op: opNe, Value: value}
}

func Gt(column string, value any) Filter  { return cmpFilter{Column: column, Op: opGt, Value: value} }
func Gte(column string, value any) Filter { return cmpFilter{Column: column, Op: opGte, Value: value} }
func Lt(column string, value any) Filter  { return cmpFilter{Column: column, Op: opLt, Value: value} }
func Lte(column string, value any) Filter { return cmpFilter{Column: column, Op: opLte, Value: value} }

// In matches column IN values. An empty list matches nothing.
func In[T any](column string, values []T) Filter {
	vals := make([]any, 0, len(values))
	for _, v := range values {
		vals = append(vals, v)
	}
	return inFilter{Column: column, Values: vals}
}

func IsNull(column string) Filter  { return nullFilter{Column: column, IsNull: true} }
func NotNull(column string) Filter { return nullFilter{Column: column, IsNull: false} }

// Contains matches a case-insensitive substring. Match folds case with
// Unicode rules, as PostgreSQL's LOWER does; SQLite's LOWER folds ASCII
// letters only, so there non-ASCII letters match case-sensitively.
func Contains(column, text string) Filter {
	return containsFilter{Column: column, Text: text}
}

// And matches when every filter matches. Nil filters are skipped.
func And(filters ...Filter) Filter {
	out := compact(filters)
	switch len(out) {
	case 0:
		return True()
	case 1:
		return out[0]
	}
	return andFilter{Filters: out}
}

// Or matches when any filter matches. Nil filters are skipped.
func Or(filters ...Filter) Filter {
	out := compact(filters)
	switch len(out) {
	case 0:
		return False()
	case 1:
		return out[0]
	}
	return orFilter{Filters: out}
}

func Not(f Filter) Filter {
	return notFilter{Filter: f}
}

func True() Filter  { return constFilter{Value: true} }
func False() Filter { return constFilter{Value: false} }

// Related matches when the row reached through a belongs-to link exists and
// matches f. Match reads the related row from the parent under field.
func Related(field string, link Link, f Filter) Filter {
	if !link.BelongsTo() {
		panic(fmt.Sprintf("query: related filter %q needs a belongs-to link", field))
	}
	return relatedFilter{Field: field, Link: link, Filter: f}
}

func compact(filters []Filter) []Filter {
	out := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (f cmpFilter) String() string      { return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value) }
func (f inFilter) String() string       { return fmt.Sprintf("%s IN %v", f.Column, f.Values) }
func (f containsFilter) String() string { return fmt.Sprintf("%s CONTAINS %q", f.Column, f.Text) }
func (f notFilter) String() string      { return fmt.Sprintf("NOT (%s)", f.Filter) }
func (f constFilter) String() string    { return fmt.Sprintf("%t", f.Value) }

func (f nullFilter) String() string {
	if f.IsNull {
		return f.Column + " IS NULL"
	}
	return f.Column + " IS NOT NULL"
}

func (f andFilter) String() string { return joinFilters("AND", f.Filters) }
func (f orFilter) String() string  { return joinFilters("OR", f.Filters) }

func (f relatedFilter) String() string {
	return fmt.Sprintf("%s{%s}", f.Field, f.Filter)
}

func joinFilters(op string, filters []Filter) string {
	s := "("
	for i, f := range filters {
		if i > 0 {
			s += " " + op + " "
		}
		s += f.String()
	}
	return s + ")"
}

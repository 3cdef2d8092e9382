package query

import (
	"fmt"
	"sort"
	"strings"
)

// Compile renders f as a SQL condition over table, returning the condition
// and its positional arguments. The output is meant for gorm's Where, which
// expands slice arguments bound to "IN ?".
func Compile(f Filter, table string) (string, []any) {
	c := &compiler{}
	sql := c.expr(f, table)
	return sql, c.args
}

type compiler struct {
	aliases int
	args    []any
}

func (c *compiler) expr(f Filter, alias string) string {
	switch t := f.(type) {
	case constFilter:
		if t.Value {
			return "1 = 1"
		}
		return "1 = 0"

	case cmpFilter:
		c.args = append(c.args, t.Value)
		return fmt.Sprintf("%s.%s %s ?", alias, t.Column, t.Op)

	case inFilter:
		if len(t.Values) == 0 {
			return "1 = 0"
		}
		c.args = append(c.args, t.Values)
		return fmt.Sprintf("%s.%s IN ?", alias, t.Column)

	case nullFilter:
		if t.IsNull {
			return fmt.Sprintf("%s.%s IS NULL", alias, t.Column)
		}
		return fmt.Sprintf("%s.%s IS NOT NULL", alias, t.Column)

	case containsFilter:
		c.args = append(c.args, "%"+escapeLike(strings.ToLower(t.Text))+"%")
		return fmt.Sprintf(`LOWER(%s.%s) LIKE ? ESCAPE '\'`, alias, t.Column)

	case andFilter:
		return c.join(" AND ", t.Filters, alias)

	case orFilter:
		return c.join(" OR ", t.Filters, alias)

	case notFilter:
		return "NOT (" + c.expr(t.Filter, alias) + ")"

	case relatedFilter:
		c.aliases++
		sub := fmt.Sprintf("r%d", c.aliases)
		conds := []string{fmt.Sprintf("%s.id = %s.%s", sub, alias, t.Link.LocalKey)}

		cols := make([]string, 0, len(t.Link.Where))
		for col := range t.Link.Where {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			c.args = append(c.args, t.Link.Where[col])
			conds = append(conds, fmt.Sprintf("%s.%s = ?", sub, col))
		}

		conds = append(conds, "("+c.expr(t.Filter, sub)+")")
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s)", t.Link.Table, sub, strings.Join(conds, " AND "))
	}

	panic(fmt.Sprintf("query: cannot compile filter %T", f))
}

func (c *compiler) join(op string, filters []Filter, alias string) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, c.expr(f, alias))
	}
	return "(" + strings.Join(parts, op) + ")"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

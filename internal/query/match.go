package query

import "strings"

// tri is SQL's three-valued logic: a comparison with NULL is unknown, and
// unknown rows are excluded, so Match mirrors what a WHERE clause keeps.
type tri int8

const (
	triFalse tri = iota
	triUnknown
	triTrue
)

func triOf(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

// Match evaluates f against row the way the compiled SQL would.
func Match(f Filter, row Row) bool {
	return eval(f, row) == triTrue
}

func eval(f Filter, row Row) tri {
	switch t := f.(type) {
	case constFilter:
		return triOf(t.Value)

	case cmpFilter:
		v := normalize(row[t.Column])
		want := normalize(t.Value)
		if v == nil || want == nil {
			return triUnknown
		}
		c, ok := compare(v, want)
		if !ok {
			return triUnknown
		}
		switch t.Op {
		case opEq:
			return triOf(c == 0)
		case opNe:
			return triOf(c != 0)
		case opGt:
			return triOf(c > 0)
		case opGte:
			return triOf(c >= 0)
		case opLt:
			return triOf(c < 0)
		case opLte:
			return triOf(c <= 0)
		}
		return triUnknown

	case inFilter:
		if len(t.Values) == 0 {
			return triFalse
		}
		v := normalize(row[t.Column])
		if v == nil {
			return triUnknown
		}
		result := triFalse
		for _, raw := range t.Values {
			want := normalize(raw)
			if want == nil {
				result = triUnknown
				continue
			}
			if c, ok := compare(v, want); ok && c == 0 {
				return triTrue
			}
		}
		return result

	case nullFilter:
		return triOf((normalize(row[t.Column]) == nil) == t.IsNull)

	case containsFilter:
		v := normalize(row[t.Column])
		s, ok := v.(string)
		if !ok {
			if v == nil {
				return triUnknown
			}
			return triFalse
		}
		return triOf(strings.Contains(strings.ToLower(s), strings.ToLower(t.Text)))

	case andFilter:
		result := triTrue
		for _, sub := range t.Filters {
			switch eval(sub, row) {
			case triFalse:
				return triFalse
			case triUnknown:
				result = triUnknown
			}
		}
		return result

	case orFilter:
		result := triFalse
		for _, sub := range t.Filters {
			switch eval(sub, row) {
			case triTrue:
				return triTrue
			case triUnknown:
				result = triUnknown
			}
		}
		return result

	case notFilter:
		switch eval(t.Filter, row) {
		case triTrue:
			return triFalse
		case triFalse:
			return triTrue
		default:
			return triUnknown
		}

	case relatedFilter:
		// EXISTS is never unknown.
		nested := row.Nested(t.Field)
		if nested == nil {
			return triFalse
		}
		for col, want := range t.Link.Where {
			if c, ok := compare(normalize(nested[col]), normalize(want)); !ok || c != 0 {
				return triFalse
			}
		}
		return triOf(eval(t.Filter, nested) == triTrue)
	}

	return triUnknown
}

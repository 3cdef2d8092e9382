package query

import (
	"fmt"
	"reflect"
	"time"
)

// CountKey is the row key holding derived counts (count name -> int64).
const CountKey = "_count"

// Row is a storage row keyed by column or nested relation name.
type Row map[string]any

// ID returns the row's id column as a string.
func (r Row) ID() string {
	return r.String("id")
}

// String returns the column value as a string, or "" when null.
func (r Row) String(col string) string {
	v := normalize(r[col])
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Bool interprets the column value as a boolean (int 0/1 or bool).
func (r Row) Bool(col string) bool {
	switch t := normalize(r[col]).(type) {
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t == "true" || t == "1"
	default:
		return false
	}
}

// Int returns the column value as an int64.
func (r Row) Int(col string) int64 {
	switch t := normalize(r[col]).(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// Nested returns the related row stored under name, or nil.
func (r Row) Nested(name string) Row {
	switch t := r[name].(type) {
	case Row:
		return t
	case map[string]any:
		return t
	default:
		return nil
	}
}

// Many returns the related rows stored under name.
func (r Row) Many(name string) []Row {
	switch t := r[name].(type) {
	case []Row:
		return t
	default:
		return nil
	}
}

// Count returns a derived count stored by the store.
func (r Row) Count(name string) int64 {
	counts, ok := r[CountKey].(map[string]int64)
	if !ok {
		return 0
	}
	return counts[name]
}

// normalize reduces driver values to a small set of comparable types:
// nil, int64, float64, string, time.Time.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return t
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Bool:
		return normalize(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	}

	return v
}

// compare orders two normalized values; ok is false when they are not comparable.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, float64(y)), true
		case float64:
			return cmpOrdered(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

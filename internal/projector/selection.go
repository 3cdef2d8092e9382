package projector

import (
	"fmt"
	"sort"

	"github.com/emrgen/omnistore/internal/errs"
)

// Selection is a client-requested field tree. A nil or empty value requests
// a leaf; union fields are keyed by branch kind name.
type Selection map[string]Selection

// ParseSelection reads a decoded json selection where leaves are true.
func ParseSelection(raw map[string]any) (Selection, error) {
	out := make(Selection, len(raw))
	for name, v := range raw {
		switch t := v.(type) {
		case nil:
			out[name] = nil
		case bool:
			if t {
				out[name] = nil
			}
		case map[string]any:
			sub, err := ParseSelection(t)
			if err != nil {
				return nil, err
			}
			out[name] = sub
		default:
			return nil, errs.New(errs.ValidationError, "selection %q: unsupported value %T", name, v)
		}
	}
	return out, nil
}

// Fields returns the selected names in sorted order.
func (s Selection) Fields() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is selected.
func (s Selection) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s Selection) String() string {
	return fmt.Sprint(map[string]Selection(s))
}

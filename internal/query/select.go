package query

import "fmt"

// Link describes how a related row is reached from a parent row.
// Exactly one of LocalKey, ForeignKey, or Through is set.
type Link struct {
	// Table is the target table.
	Table string
	// LocalKey is the parent column holding the target id (belongs-to).
	LocalKey string
	// ForeignKey is the target column holding the parent id (has-one/has-many).
	ForeignKey string
	// Through reaches targets via a join table.
	Through *Through
	// Many marks one-to-many links.
	Many bool
	// Where holds static target-side equality conditions.
	Where map[string]any
	// When restricts a belongs-to link to parents whose discriminator matches.
	When *Discriminator
}

// Through is a join-table hop: parent.id = join.LocalKey, join.TargetKey = target.id.
type Through struct {
	Table     string
	LocalKey  string
	TargetKey string
	// Field is the key under which the store wraps each target row.
	Field string
}

// Discriminator selects the branch of a polymorphic reference.
type Discriminator struct {
	Column string
	Value  any
}

// BelongsTo reports whether the parent row holds the target id.
func (l Link) BelongsTo() bool {
	return l.LocalKey != ""
}

// Validate checks the link is well-formed.
func (l Link) Validate() error {
	set := 0
	if l.LocalKey != "" {
		set++
	}
	if l.ForeignKey != "" {
		set++
	}
	if l.Through != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("link to %s must set exactly one of LocalKey, ForeignKey, Through", l.Table)
	}
	if l.Table == "" {
		return fmt.Errorf("link has no table")
	}
	if l.When != nil && !l.BelongsTo() {
		return fmt.Errorf("link to %s: discriminator requires LocalKey", l.Table)
	}
	if l.Through != nil && (l.Through.Table == "" || l.Through.LocalKey == "" || l.Through.TargetKey == "" || l.Through.Field == "") {
		return fmt.Errorf("link to %s: incomplete join table", l.Table)
	}
	return nil
}

// Select is a storage selection: columns of one table plus nested links and counts.
type Select struct {
	Table   string
	Columns []string
	Nested  map[string]*Nested
	Counts  map[string]Link
}

// Nested is a related selection reached through Link.
type Nested struct {
	Link   Link
	Select *Select
}

// NewSelect creates a selection on table with the given columns.
func NewSelect(table string, columns ...string) *Select {
	s := &Select{Table: table}
	return s.Column(columns...)
}

// Column adds columns, ignoring duplicates.
func (s *Select) Column(columns ...string) *Select {
	for _, c := range columns {
		if c == "" || s.HasColumn(c) {
			continue
		}
		s.Columns = append(s.Columns, c)
	}
	return s
}

// HasColumn reports whether the column is selected.
func (s *Select) HasColumn(col string) bool {
	for _, c := range s.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// With adds a nested selection under name, merging into an existing one.
func (s *Select) With(name string, link Link, sub *Select) *Select {
	if s.Nested == nil {
		s.Nested = make(map[string]*Nested)
	}
	if existing, ok := s.Nested[name]; ok {
		existing.Select.Merge(sub)
		return s
	}
	s.Nested[name] = &Nested{Link: link, Select: sub}
	return s
}

// Count adds a derived count under name.
func (s *Select) Count(name string, link Link) *Select {
	if s.Counts == nil {
		s.Counts = make(map[string]Link)
	}
	s.Counts[name] = link
	return s
}

// Merge folds o into s and returns s.
func (s *Select) Merge(o *Select) *Select {
	if o == nil {
		return s
	}
	s.Column(o.Columns...)
	for name, n := range o.Nested {
		s.With(name, n.Link, n.Select.Clone())
	}
	for name, l := range o.Counts {
		s.Count(name, l)
	}
	return s
}

// Clone returns a deep copy.
func (s *Select) Clone() *Select {
	if s == nil {
		return nil
	}
	c := NewSelect(s.Table, s.Columns...)
	for name, n := range s.Nested {
		c.With(name, n.Link, n.Select.Clone())
	}
	for name, l := range s.Counts {
		c.Count(name, l)
	}
	return c
}

// Order sorts by a column.
type Order struct {
	Column string
	Desc   bool
}

// Page bounds a result set. Zero Limit means unbounded.
type Page struct {
	Offset int
	Limit  int
}

package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emrgen/omnistore/internal/authz"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
)

type SearchInput struct {
	Filters map[string]any
	Text    string
	Sort    string
	// After is the EndCursor of the previous page.
	After      string
	Take       int
	Visibility string
}

type Page struct {
	Edges       []registry.Object
	HasNextPage bool
	EndCursor   string
}

// Search lists objects of a kind matching the input. The visibility filter
// is compiled into the query, so every returned object is readable.
func (e *Engine) Search(ctx context.Context, k kind.Kind, in SearchInput, sel projector.Selection, viewer perm.Viewer) (page *Page, err error) {
	defer e.observe(k, "search", time.Now(), &err)

	d, err := e.registry.Resolve(k)
	if err != nil {
		return nil, err
	}
	if d.Search == nil {
		return nil, errs.New(errs.ValidationError, "%s cannot be searched", k)
	}

	mode, err := authz.ParseMode(in.Visibility)
	if err != nil {
		return nil, err
	}
	visible, err := authz.Filter(d, mode, viewer)
	if err != nil {
		return nil, err
	}

	where, err := searchFilter(d, in)
	if err != nil {
		return nil, err
	}

	name := in.Sort
	if name == "" {
		name = d.Search.DefaultSort
	}
	order, ok := d.Search.Sorts[name]
	if !ok {
		return nil, errs.New(errs.ValidationError, "%s cannot be sorted by %q", k, name)
	}

	offset := 0
	if in.After != "" {
		offset, err = strconv.Atoi(in.After)
		if err != nil || offset < 0 {
			return nil, errs.New(errs.ValidationError, "invalid cursor %q", in.After)
		}
	}

	take := in.Take
	switch {
	case take < 0:
		return nil, errs.New(errs.ValidationError, "take must not be negative")
	case take == 0:
		take = defaultTake
	case take > maxTake:
		take = maxTake
	}

	q, err := e.selection(d, sel)
	if err != nil {
		return nil, err
	}

	rows, err := e.store.Find(ctx, q, query.And(visible, where), order, query.Page{Offset: offset, Limit: take + 1})
	if err != nil {
		return nil, internal(err, "searching %s", k)
	}

	page = &Page{HasNextPage: len(rows) > take}
	if page.HasNextPage {
		rows = rows[:take]
	}
	if page.Edges, err = e.projector.Shape(ctx, d, rows, sel, viewer, e); err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		page.EndCursor = strconv.Itoa(offset + len(rows))
	}
	return page, nil
}

func searchFilter(d *registry.Descriptor, in SearchInput) (query.Filter, error) {
	names := make([]string, 0, len(in.Filters))
	for name := range in.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]query.Filter, 0, len(names)+1)
	for _, name := range names {
		build, ok := d.Search.Filters[name]
		if !ok {
			return nil, errs.New(errs.ValidationError, "%s cannot be filtered by %q", d.Kind, name)
		}
		f, err := build(in.Filters[name])
		if err != nil {
			return nil, errs.Wrap(errs.ValidationError, err, "filter %q", name)
		}
		parts = append(parts, f)
	}

	if text := strings.TrimSpace(in.Text); text != "" {
		if d.Search.Text == nil {
			return nil, errs.New(errs.ValidationError, "%s has no text search", d.Kind)
		}
		parts = append(parts, d.Search.Text(text))
	}

	return query.And(parts...), nil
}

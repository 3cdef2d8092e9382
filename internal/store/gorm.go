package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/model"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx})
	})
}

func (g *GormStore) Dialect() string {
	return g.db.Dialector.Name()
}

// DB exposes the underlying connection for maintenance tasks.
func (g *GormStore) DB() *gorm.DB {
	return g.db
}

func (g *GormStore) Find(ctx context.Context, sel *query.Select, where query.Filter, order []query.Order, page query.Page) ([]query.Row, error) {
	tx := g.db.WithContext(ctx).Table(sel.Table).Select(selectColumns(sel))
	if where != nil {
		cond, args := query.Compile(where, sel.Table)
		tx = tx.Where(cond, args...)
	}
	for _, o := range order {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Table: sel.Table, Name: o.Column}, Desc: o.Desc})
	}
	// id breaks ties so offset pages are stable
	tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Table: sel.Table, Name: "id"}})
	if page.Offset > 0 {
		tx = tx.Offset(page.Offset)
	}
	if page.Limit > 0 {
		tx = tx.Limit(page.Limit)
	}

	var raw []map[string]any
	if err := tx.Find(&raw).Error; err != nil {
		return nil, err
	}

	rows := make([]query.Row, len(raw))
	for i, r := range raw {
		rows[i] = r
	}
	if len(rows) == 0 {
		return rows, nil
	}

	if err := g.populate(ctx, sel, rows); err != nil {
		return nil, err
	}

	return rows, nil
}

func (g *GormStore) Count(ctx context.Context, table string, where query.Filter) (int64, error) {
	tx := g.db.WithContext(ctx).Table(table)
	if where != nil {
		cond, args := query.Compile(where, table)
		tx = tx.Where(cond, args...)
	}

	var n int64
	err := tx.Count(&n).Error
	return n, err
}

// Apply writes w and its relation writes. Belongs-to relations are resolved
// first so the row carries its foreign keys when written.
func (g *GormStore) Apply(ctx context.Context, w *query.Write, create bool) error {
	data := make(map[string]any, len(w.Data)+3)
	for k, v := range w.Data {
		data[k] = v
	}

	var after []*query.RelationWrite
	for _, rw := range w.Relations {
		if !rw.Link.BelongsTo() {
			after = append(after, rw)
			continue
		}

		switch rw.Op {
		case query.Connect:
			if len(rw.IDs) != 1 {
				return errs.New(errs.ValidationError, "relation %s connects exactly one row", rw.Name)
			}
			data[rw.Link.LocalKey] = rw.IDs[0]
		case query.Create:
			for _, child := range rw.Writes {
				if err := g.Apply(ctx, child, true); err != nil {
					return err
				}
				data[rw.Link.LocalKey] = child.ID
			}
		case query.Update:
			for _, child := range rw.Writes {
				if err := g.Apply(ctx, child, false); err != nil {
					return err
				}
			}
		case query.Disconnect:
			data[rw.Link.LocalKey] = nil
		case query.Delete:
			if len(rw.IDs) == 0 && !create {
				current, err := g.localKey(ctx, w.Table, w.ID, rw.Link.LocalKey)
				if err != nil {
					return err
				}
				if current != "" {
					rw.IDs = []string{current}
				}
			}
			data[rw.Link.LocalKey] = nil
			after = append(after, rw)
		}
	}

	now := time.Now().UTC()
	db := g.db.WithContext(ctx)
	if create {
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		data["id"] = w.ID
		data["created_at"] = now
		data["updated_at"] = now
		if err := db.Table(w.Table).Create(data).Error; err != nil {
			return err
		}
	} else {
		data["updated_at"] = now
		res := db.Table(w.Table).Where("id = ?", w.ID).Updates(data)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.New(errs.NotFound, "%s %s not found", w.Table, w.ID)
		}
	}

	for _, rw := range after {
		if err := g.applyRelation(ctx, w, rw); err != nil {
			return err
		}
	}

	return nil
}

func (g *GormStore) applyRelation(ctx context.Context, parent *query.Write, rw *query.RelationWrite) error {
	link := rw.Link
	db := g.db.WithContext(ctx)

	switch {
	case link.BelongsTo():
		// only Delete is deferred for belongs-to
		return g.Delete(ctx, link.Table, rw.IDs)

	case link.Through != nil:
		th := link.Through
		switch rw.Op {
		case query.Connect:
			return g.connectThrough(ctx, th, parent.ID, rw.IDs)
		case query.Create:
			ids := make([]string, 0, len(rw.Writes))
			for _, child := range rw.Writes {
				if err := g.Apply(ctx, child, true); err != nil {
					return err
				}
				ids = append(ids, child.ID)
			}
			return g.connectThrough(ctx, th, parent.ID, ids)
		case query.Update:
			for _, child := range rw.Writes {
				if err := g.Apply(ctx, child, false); err != nil {
					return err
				}
			}
			return nil
		case query.Disconnect:
			return db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s IN ?", th.Table, th.LocalKey, th.TargetKey), parent.ID, rw.IDs).Error
		case query.Delete:
			if err := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s IN ?", th.Table, th.LocalKey, th.TargetKey), parent.ID, rw.IDs).Error; err != nil {
				return err
			}
			return g.Delete(ctx, link.Table, rw.IDs)
		}

	default:
		fk := link.ForeignKey
		switch rw.Op {
		case query.Create:
			for _, child := range rw.Writes {
				if child.Data == nil {
					child.Data = make(map[string]any)
				}
				child.Data[fk] = parent.ID
				for col, v := range link.Where {
					child.Data[col] = v
				}
				if err := g.Apply(ctx, child, true); err != nil {
					return err
				}
			}
			return nil
		case query.Connect:
			values := map[string]any{fk: parent.ID, "updated_at": time.Now().UTC()}
			res := db.Table(link.Table).Where("id IN ?", rw.IDs).Updates(values)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != int64(len(rw.IDs)) {
				return errs.New(errs.NotFound, "relation %s: %d of %d rows found", rw.Name, res.RowsAffected, len(rw.IDs))
			}
			return nil
		case query.Update:
			ids := make([]string, 0, len(rw.Writes))
			for _, child := range rw.Writes {
				ids = append(ids, child.ID)
			}
			var n int64
			if err := db.Table(link.Table).Where(fmt.Sprintf("%s = ? AND id IN ?", fk), parent.ID, ids).Count(&n).Error; err != nil {
				return err
			}
			if n != int64(len(ids)) {
				return errs.New(errs.ValidationError, "relation %s: rows are not related to %s", rw.Name, parent.ID)
			}
			for _, child := range rw.Writes {
				if err := g.Apply(ctx, child, false); err != nil {
					return err
				}
			}
			return nil
		case query.Disconnect:
			tx := db.Table(link.Table).Where(fmt.Sprintf("%s = ?", fk), parent.ID)
			if len(rw.IDs) > 0 {
				tx = tx.Where("id IN ?", rw.IDs)
			}
			return tx.Updates(map[string]any{fk: nil, "updated_at": time.Now().UTC()}).Error
		case query.Delete:
			if len(rw.IDs) == 0 {
				return db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", link.Table, fk), parent.ID).Error
			}
			return db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND id IN ?", link.Table, fk), parent.ID, rw.IDs).Error
		}
	}

	return errs.New(errs.Internal, "relation %s: unsupported operation %s", rw.Name, rw.Op)
}

func (g *GormStore) localKey(ctx context.Context, table, id, column string) (string, error) {
	var values []string
	err := g.db.WithContext(ctx).Table(table).Where("id = ?", id).
		Where(fmt.Sprintf("%s IS NOT NULL", column)).Pluck(column, &values).Error
	if err != nil || len(values) == 0 {
		return "", err
	}
	return values[0], nil
}

func (g *GormStore) connectThrough(ctx context.Context, th *query.Through, parentID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]any{
			"id":         uuid.NewString(),
			th.LocalKey:  parentID,
			th.TargetKey: id,
			"created_at": now,
			"updated_at": now,
		})
	}

	return g.db.WithContext(ctx).Table(th.Table).Create(rows).Error
}

func (g *GormStore) UpdateColumns(ctx context.Context, table, id string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}

	res := g.db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.NotFound, "%s %s not found", table, id)
	}
	return nil
}

func (g *GormStore) UpdateWhere(ctx context.Context, table string, where query.Filter, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	cond, args := query.Compile(where, table)
	res := g.db.WithContext(ctx).Table(table).Where(cond, args...).Updates(values)
	return res.RowsAffected, res.Error
}

func (g *GormStore) Delete(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s WHERE id IN ?", table), ids).Error
}

func (g *GormStore) Increment(ctx context.Context, table, id, column string, delta int64) error {
	res := g.db.WithContext(ctx).Table(table).Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(fmt.Sprintf("%s + ?", column), delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.NotFound, "%s %s not found", table, id)
	}
	return nil
}

// populate loads nested selections and counts for rows in one query per
// relation.
func (g *GormStore) populate(ctx context.Context, sel *query.Select, rows []query.Row) error {
	names := make([]string, 0, len(sel.Nested))
	for name := range sel.Nested {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		n := sel.Nested[name]
		var err error
		switch {
		case n.Link.BelongsTo():
			err = g.populateBelongsTo(ctx, name, n, rows)
		case n.Link.Through != nil:
			err = g.populateThrough(ctx, name, n, rows)
		default:
			err = g.populateHasMany(ctx, name, n, rows)
		}
		if err != nil {
			return fmt.Errorf("populate %s.%s: %w", sel.Table, name, err)
		}
	}

	for name, link := range sel.Counts {
		if err := g.populateCount(ctx, name, link, rows); err != nil {
			return fmt.Errorf("count %s.%s: %w", sel.Table, name, err)
		}
	}

	return nil
}

func (g *GormStore) populateBelongsTo(ctx context.Context, name string, n *query.Nested, rows []query.Row) error {
	link := n.Link
	matches := func(row query.Row) bool {
		if link.When == nil {
			return true
		}
		return row.String(link.When.Column) == fmt.Sprint(link.When.Value)
	}

	var ids []string
	seen := make(map[string]bool)
	for _, row := range rows {
		id := row.String(link.LocalKey)
		if id == "" || !matches(row) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	byID := make(map[string]query.Row)
	if len(ids) > 0 {
		targets, err := g.Find(ctx, n.Select, query.And(query.In("id", ids), whereEq(link.Where)), nil, query.Page{})
		if err != nil {
			return err
		}
		for _, t := range targets {
			byID[t.ID()] = t
		}
	}

	for _, row := range rows {
		row[name] = nil
		if !matches(row) {
			continue
		}
		if t, ok := byID[row.String(link.LocalKey)]; ok {
			row[name] = t
		}
	}

	return nil
}

func (g *GormStore) populateHasMany(ctx context.Context, name string, n *query.Nested, rows []query.Row) error {
	link := n.Link
	sub := n.Select.Clone().Column(link.ForeignKey)
	targets, err := g.Find(ctx, sub, query.And(query.In(link.ForeignKey, rowIDs(rows)), whereEq(link.Where)),
		[]query.Order{{Column: "created_at"}}, query.Page{})
	if err != nil {
		return err
	}

	grouped := make(map[string][]query.Row)
	for _, t := range targets {
		key := t.String(link.ForeignKey)
		grouped[key] = append(grouped[key], t)
	}

	for _, row := range rows {
		found := grouped[row.ID()]
		if link.Many {
			if found == nil {
				found = []query.Row{}
			}
			row[name] = found
			continue
		}
		row[name] = nil
		if len(found) > 0 {
			row[name] = found[0]
		}
	}

	return nil
}

func (g *GormStore) populateThrough(ctx context.Context, name string, n *query.Nested, rows []query.Row) error {
	th := n.Link.Through

	var joins []map[string]any
	err := g.db.WithContext(ctx).Table(th.Table).
		Select([]string{th.LocalKey, th.TargetKey}).
		Where(fmt.Sprintf("%s IN ?", th.LocalKey), rowIDs(rows)).
		Order("created_at").Order("id").
		Find(&joins).Error
	if err != nil {
		return err
	}

	var targetIDs []string
	seen := make(map[string]bool)
	for _, j := range joins {
		id := query.Row(j).String(th.TargetKey)
		if !seen[id] {
			seen[id] = true
			targetIDs = append(targetIDs, id)
		}
	}

	byID := make(map[string]query.Row)
	if len(targetIDs) > 0 {
		targets, err := g.Find(ctx, n.Select, query.And(query.In("id", targetIDs), whereEq(n.Link.Where)), nil, query.Page{})
		if err != nil {
			return err
		}
		for _, t := range targets {
			byID[t.ID()] = t
		}
	}

	grouped := make(map[string][]query.Row)
	for _, j := range joins {
		jr := query.Row(j)
		t, ok := byID[jr.String(th.TargetKey)]
		if !ok {
			continue
		}
		key := jr.String(th.LocalKey)
		grouped[key] = append(grouped[key], query.Row{th.Field: t})
	}

	for _, row := range rows {
		found := grouped[row.ID()]
		if found == nil {
			found = []query.Row{}
		}
		row[name] = found
	}

	return nil
}

type countRow struct {
	ParentID string
	N        int64
}

func (g *GormStore) populateCount(ctx context.Context, name string, link query.Link, rows []query.Row) error {
	table, key := link.Table, link.ForeignKey
	if link.Through != nil {
		table, key = link.Through.Table, link.Through.LocalKey
	}

	tx := g.db.WithContext(ctx).Table(table).
		Select(fmt.Sprintf("%s AS parent_id, COUNT(*) AS n", key)).
		Where(fmt.Sprintf("%s IN ?", key), rowIDs(rows))
	if link.Through == nil {
		cols := make([]string, 0, len(link.Where))
		for col := range link.Where {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			tx = tx.Where(fmt.Sprintf("%s = ?", col), link.Where[col])
		}
	}

	var counts []countRow
	if err := tx.Group(key).Scan(&counts).Error; err != nil {
		return err
	}

	byParent := make(map[string]int64, len(counts))
	for _, c := range counts {
		byParent[c.ParentID] = c.N
	}

	for _, row := range rows {
		m, ok := row[query.CountKey].(map[string]int64)
		if !ok {
			m = make(map[string]int64)
			row[query.CountKey] = m
		}
		m[name] = byParent[row.ID()]
	}

	return nil
}

func selectColumns(sel *query.Select) []string {
	cols := query.NewSelect(sel.Table, "id").Column(sel.Columns...)
	for _, n := range sel.Nested {
		if n.Link.BelongsTo() {
			cols.Column(n.Link.LocalKey)
			if n.Link.When != nil {
				cols.Column(n.Link.When.Column)
			}
		}
	}

	out := make([]string, len(cols.Columns))
	for i, c := range cols.Columns {
		out[i] = sel.Table + "." + c
	}
	return out
}

func rowIDs(rows []query.Row) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID())
	}
	return ids
}

func whereEq(where map[string]any) query.Filter {
	if len(where) == 0 {
		return nil
	}

	cols := make([]string, 0, len(where))
	for col := range where {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	filters := make([]query.Filter, 0, len(cols))
	for _, col := range cols {
		filters = append(filters, query.Eq(col, where[col]))
	}
	return query.And(filters...)
}

func logQueryError(op string, err error) error {
	if err != nil {
		logrus.Errorf("store: %s failed: %v", op, err)
	}
	return err
}

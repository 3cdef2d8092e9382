package ledger

import (
	"context"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/sirupsen/logrus"
)

// maxLineage bounds how far a fork chain is followed.
const maxLineage = 1024

// Ledger keeps the root/version invariants of one version kind: every root
// has exactly one latest version or none at all, and indices run 0..n-1.
type Ledger struct {
	version *registry.Descriptor
	root    *registry.Descriptor
}

func New(version, root *registry.Descriptor) *Ledger {
	return &Ledger{version: version, root: root}
}

// All returns a ledger for every versioned kind in reg.
func All(reg *registry.Registry) ([]*Ledger, error) {
	var out []*Ledger
	for _, k := range reg.Kinds() {
		version, err := reg.Resolve(k)
		if err != nil {
			return nil, err
		}
		if version.Version == nil {
			continue
		}
		root, err := reg.Resolve(version.Version.RootKind)
		if err != nil {
			return nil, err
		}
		out = append(out, New(version, root))
	}
	return out, nil
}

// Name identifies the ledger by its version kind.
func (l *Ledger) Name() string {
	return string(l.version.Kind)
}

type entry struct {
	id       string
	root     string
	parent   string
	index    int64
	hasIndex bool
	latest   bool
	complete bool
	batch    bool
}

func (l *Ledger) spec() *registry.VersionSpec {
	return l.version.Version
}

func (l *Ledger) selection() *query.Select {
	s := l.spec()
	return query.NewSelect(l.version.Table, "id", s.RootColumn, s.Index, s.Latest, s.Complete, s.Parent, s.Private, "created_at")
}

func (l *Ledger) load(ctx context.Context, tx store.Store, where query.Filter) ([]*entry, error) {
	s := l.spec()
	rows, err := tx.Find(ctx, l.selection(), where, []query.Order{{Column: s.Index}, {Column: "created_at"}}, query.Page{})
	if err != nil {
		return nil, err
	}

	out := make([]*entry, len(rows))
	for i, r := range rows {
		out[i] = &entry{
			id:       r.ID(),
			root:     r.String(s.RootColumn),
			parent:   r.String(s.Parent),
			index:    r.Int(s.Index),
			hasIndex: true,
			latest:   r.Bool(s.Latest),
			complete: r.Bool(s.Complete),
		}
	}
	return out, nil
}

// Check validates a batch of version payloads against the stored versions of
// every root it touches. Creates without an index are appended after the
// highest index of their root; the assignment is returned as a sidecar.
// Versions stay with the root they were created under.
func (l *Ledger) Check(ctx context.Context, tx store.Store, batch registry.Batch) (registry.Sidecar, error) {
	s := l.spec()
	connectKey := s.RootRelation + string(query.Connect)
	createKey := s.RootRelation + string(query.Create)

	touched := append(payloadIDs(batch.Updates), batch.Deletes...)
	byID := make(map[string]*entry)
	if len(touched) > 0 {
		existing, err := l.load(ctx, tx, query.In("id", touched))
		if err != nil {
			return nil, err
		}
		for _, e := range existing {
			byID[e.id] = e
		}
	}

	roots := mapset.NewThreadUnsafeSet[string]()
	for _, e := range byID {
		roots.Add(e.root)
	}
	createRoots := make([]string, len(batch.Creates))
	for i, p := range batch.Creates {
		root, _ := p[connectKey].(string)
		if root == "" {
			if _, ok := p[createKey]; ok {
				root = "new:" + payloadID(p)
			}
		}
		if root == "" {
			return nil, errs.New(errs.ValidationError, "%s %s has no %s", l.version.Kind, payloadID(p), s.RootRelation)
		}
		createRoots[i] = root
		roots.Add(root)
	}

	state := make(map[string]map[string]*entry)
	before := make(map[string]int)
	all := make(map[string]*entry)
	stored := roots.ToSlice()
	sort.Strings(stored)
	if len(stored) > 0 {
		current, err := l.load(ctx, tx, query.In(s.RootColumn, stored))
		if err != nil {
			return nil, err
		}
		for _, e := range current {
			if state[e.root] == nil {
				state[e.root] = make(map[string]*entry)
			}
			state[e.root][e.id] = e
			before[e.root]++
			all[e.id] = e
		}
	}
	for _, root := range stored {
		if state[root] == nil {
			state[root] = make(map[string]*entry)
		}
	}

	for _, id := range batch.Deletes {
		e, ok := byID[id]
		if !ok {
			continue
		}
		delete(state[e.root], id)
		delete(all, id)
	}

	latest := make(map[string]int)
	for _, p := range batch.Updates {
		e, ok := byID[payloadID(p)]
		if !ok {
			continue
		}
		if root, ok := p[connectKey].(string); ok && root != e.root {
			return nil, errs.New(errs.VersionConsistencyError, "%s %s cannot move from %s %s to %s",
				l.version.Kind, e.id, l.root.Kind, e.root, root)
		}
		if _, ok := p[createKey]; ok {
			return nil, errs.New(errs.VersionConsistencyError, "%s %s cannot move from %s %s to a new %s",
				l.version.Kind, e.id, l.root.Kind, e.root, l.root.Kind)
		}
		e.batch = true
		if v, ok := number(p["versionIndex"]); ok {
			e.index = v
		}
		if v, ok := p["isLatest"].(bool); ok {
			e.latest = v
			if v {
				latest[e.root]++
			}
		}
		if v, ok := p["parent"+string(query.Connect)].(string); ok {
			e.parent = v
		}
		if _, ok := p["parent"+string(query.Disconnect)]; ok {
			e.parent = ""
		}
	}

	var unindexed []*entry
	for i, p := range batch.Creates {
		e := &entry{id: payloadID(p), root: createRoots[i], batch: true}
		if v, ok := number(p["versionIndex"]); ok {
			e.index, e.hasIndex = v, true
		}
		if v, ok := p["isLatest"].(bool); ok && v {
			e.latest = true
			latest[e.root]++
		}
		if v, ok := p["parent"+string(query.Connect)].(string); ok {
			e.parent = v
		}
		if !e.hasIndex {
			unindexed = append(unindexed, e)
		}
		state[e.root][e.id] = e
		all[e.id] = e
	}

	sidecar := make(registry.Sidecar)
	for _, e := range unindexed {
		next := int64(0)
		for _, other := range state[e.root] {
			if other.hasIndex && other.index >= next {
				next = other.index + 1
			}
		}
		e.index, e.hasIndex = next, true
		sidecar[e.id] = map[string]any{s.Index: next}
	}

	for root, versions := range state {
		if len(versions) == 0 && before[root] > 0 {
			return nil, errs.New(errs.VersionConsistencyError, "%s %s would be left without versions", l.root.Kind, root)
		}
		if latest[root] > 1 {
			return nil, errs.New(errs.VersionConsistencyError, "%s %s has %d versions marked latest", l.root.Kind, root, latest[root])
		}
		seen := make(map[int64]*entry)
		for _, e := range sortedEntries(versions) {
			if e.index < 0 {
				return nil, errs.New(errs.VersionConsistencyError, "%s %s has negative index %d", l.version.Kind, e.id, e.index)
			}
			if other, ok := seen[e.index]; ok && (e.batch || other.batch) {
				return nil, errs.New(errs.VersionConsistencyError, "%s %s: versions %s and %s share index %d",
					l.root.Kind, root, other.id, e.id, e.index)
			}
			seen[e.index] = e
		}
	}

	for _, e := range all {
		if !e.batch || e.parent == "" {
			continue
		}
		if err := l.checkLineage(ctx, tx, e, all); err != nil {
			return nil, err
		}
	}

	return sidecar, nil
}

// checkLineage follows parent links from e and fails when they loop or dangle.
func (l *Ledger) checkLineage(ctx context.Context, tx store.Store, e *entry, known map[string]*entry) error {
	visited := mapset.NewThreadUnsafeSet[string](e.id)
	parent := e.parent
	for depth := 0; parent != "" && depth < maxLineage; depth++ {
		if visited.Contains(parent) {
			return errs.New(errs.VersionConsistencyError, "%s %s is its own ancestor", l.version.Kind, e.id)
		}
		visited.Add(parent)

		next, ok := known[parent]
		if !ok {
			loaded, err := l.load(ctx, tx, query.Eq("id", parent))
			if err != nil {
				return err
			}
			if len(loaded) == 0 {
				return errs.New(errs.VersionConsistencyError, "parent %s of %s %s does not exist", parent, l.version.Kind, e.id)
			}
			next = loaded[0]
			known[parent] = next
		}
		parent = next.parent
	}
	return nil
}

// Normalize renumbers the versions of each root to 0..n-1 ordered by
// (index, created_at), marks one version latest, and refreshes the root's
// complete flag. requested maps a root to the version explicitly made latest;
// without one the highest index wins.
func (l *Ledger) Normalize(ctx context.Context, tx store.Store, roots []string, requested map[string]string) (int, error) {
	s := l.spec()
	changed := 0

	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)
	for i, root := range sorted {
		if root == "" || (i > 0 && sorted[i-1] == root) {
			continue
		}

		versions, err := l.load(ctx, tx, query.Eq(s.RootColumn, root))
		if err != nil {
			return changed, err
		}

		latest := ""
		if id := requested[root]; id != "" {
			for _, v := range versions {
				if v.id == id {
					latest = id
				}
			}
		}
		if latest == "" && len(versions) > 0 {
			latest = versions[len(versions)-1].id
		}

		complete := false
		for j, v := range versions {
			values := make(map[string]any)
			if v.index != int64(j) {
				values[s.Index] = j
			}
			if want := v.id == latest; v.latest != want {
				values[s.Latest] = want
			}
			if len(values) > 0 {
				if err := tx.UpdateColumns(ctx, l.version.Table, v.id, values); err != nil {
					return changed, err
				}
				changed++
			}
			complete = complete || v.complete
		}

		if l.root.Root != nil && l.root.Root.CompleteFlag != "" {
			err := tx.UpdateColumns(ctx, l.root.Table, root, map[string]any{l.root.Root.CompleteFlag: complete})
			if err != nil && !errs.Is(err, errs.NotFound) {
				return changed, err
			}
		}
	}

	return changed, nil
}

// Finalize normalizes every root touched by a version batch.
func (l *Ledger) Finalize(ctx context.Context, in registry.HookInput) error {
	s := l.spec()
	ids := append(append([]string(nil), in.Created...), in.Updated...)

	var roots []string
	versionRoot := make(map[string]string)
	if len(ids) > 0 {
		rows, err := l.load(ctx, in.Tx, query.In("id", ids))
		if err != nil {
			return err
		}
		for _, e := range rows {
			roots = append(roots, e.root)
			versionRoot[e.id] = e.root
		}
	}
	for _, row := range in.DeletedRows {
		roots = append(roots, row.String(s.RootColumn))
	}

	requested := make(map[string]string)
	for _, p := range append(append([]registry.Payload(nil), in.Batch.Creates...), in.Batch.Updates...) {
		if v, ok := p["isLatest"].(bool); ok && v {
			id := payloadID(p)
			requested[versionRoot[id]] = id
		}
	}

	_, err := l.Normalize(ctx, in.Tx, roots, requested)
	return err
}

// NestedBatch translates the version operations nested in root payloads into
// a version batch so root mutations are checked like direct version writes.
func (l *Ledger) NestedBatch(roots registry.Batch, relation string) registry.Batch {
	s := l.spec()
	var out registry.Batch

	for _, root := range append(append([]registry.Payload(nil), roots.Creates...), roots.Updates...) {
		rootID := payloadID(root)
		for _, p := range payloadList(root[relation+string(query.Create)]) {
			c := make(registry.Payload, len(p)+1)
			for k, v := range p {
				c[k] = v
			}
			c[s.RootRelation+string(query.Connect)] = rootID
			out.Creates = append(out.Creates, c)
		}
		out.Updates = append(out.Updates, payloadList(root[relation+string(query.Update)])...)
		for _, id := range stringList(root[relation+string(query.Delete)]) {
			out.Deletes = append(out.Deletes, id)
		}
	}

	return out
}

// NestedLatest maps each root payload to the nested version it marks latest.
func (l *Ledger) NestedLatest(roots registry.Batch, relation string) map[string]string {
	out := make(map[string]string)
	for _, root := range append(append([]registry.Payload(nil), roots.Creates...), roots.Updates...) {
		for _, key := range []string{relation + string(query.Create), relation + string(query.Update)} {
			for _, p := range payloadList(root[key]) {
				if v, ok := p["isLatest"].(bool); ok && v {
					out[payloadID(root)] = payloadID(p)
				}
			}
		}
	}
	return out
}

// Audit normalizes every root whose stored versions break the invariants and
// returns how many roots were repaired.
func (l *Ledger) Audit(ctx context.Context, s store.Store) (int, error) {
	versions, err := l.load(ctx, s, nil)
	if err != nil {
		return 0, err
	}

	grouped := make(map[string][]*entry)
	for _, v := range versions {
		grouped[v.root] = append(grouped[v.root], v)
	}

	var broken []string
	for root, vs := range grouped {
		latest := 0
		for i, v := range vs {
			if v.latest {
				latest++
			}
			if v.index != int64(i) {
				latest = -1
				break
			}
		}
		if latest != 1 {
			broken = append(broken, root)
		}
	}
	if len(broken) == 0 {
		return 0, nil
	}

	err = s.Transaction(ctx, func(tx store.Store) error {
		_, err := l.Normalize(ctx, tx, broken, nil)
		return err
	})
	if err != nil {
		return 0, err
	}

	logrus.Infof("ledger: normalized versions of %d %s roots", len(broken), l.root.Kind)
	return len(broken), nil
}

// Pick chooses the version that labels a root: the latest one, else the first
// public one, else the first listed.
func Pick(versions []query.Row, spec *registry.VersionSpec) query.Row {
	if len(versions) == 0 {
		return nil
	}
	for _, v := range versions {
		if v.Bool(spec.Latest) {
			return v
		}
	}
	for _, v := range versions {
		if !v.Bool(spec.Private) {
			return v
		}
	}
	return versions[0]
}

func sortedEntries(m map[string]*entry) []*entry {
	out := make([]*entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func payloadID(p registry.Payload) string {
	id, _ := p["id"].(string)
	return id
}

func payloadIDs(ps []registry.Payload) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		if id := payloadID(p); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func payloadList(v any) []registry.Payload {
	switch t := v.(type) {
	case []registry.Payload:
		return t
	case []any:
		out := make([]registry.Payload, 0, len(t))
		for _, item := range t {
			if p, ok := item.(map[string]any); ok {
				out = append(out, p)
			}
		}
		return out
	case map[string]any:
		return []registry.Payload{t}
	}
	return nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func number(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}

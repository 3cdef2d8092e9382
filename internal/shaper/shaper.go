package shaper

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/omnistore/internal/compress"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/google/uuid"
)

// Shaper turns flat mutation payloads into nested writes. Relation
// operations are written as <relation><Op> keys, e.g. ownedByUserConnect,
// versionsCreate, parentDisconnect.
type Shaper struct {
	registry *registry.Registry
	codec    compress.Compress
}

func New(reg *registry.Registry, codec compress.Compress) *Shaper {
	if codec == nil {
		codec = compress.NewNop()
	}
	return &Shaper{registry: reg, codec: codec}
}

// Build shapes one payload of d. Payloads without an id get a fresh one.
// Sidecar values keyed by payload id are merged into the row data.
func (s *Shaper) Build(d *registry.Descriptor, payload registry.Payload, create bool, sidecar registry.Sidecar) (*query.Write, error) {
	return s.build(d, payload, create, sidecar, "")
}

// build shapes one payload. inverse names the relation a nested write is
// attached through; it is set by the parent and never required here.
func (s *Shaper) build(d *registry.Descriptor, payload registry.Payload, create bool, sidecar registry.Sidecar, inverse string) (*query.Write, error) {
	if d.Mutate == nil {
		return nil, errs.New(errs.ValidationError, "%s cannot be written", d.Kind)
	}

	id, _ := payload["id"].(string)
	if id == "" {
		if !create {
			return nil, errs.New(errs.ValidationError, "%s update without id", d.Kind)
		}
		id = uuid.NewString()
		payload["id"] = id
	}

	w := &query.Write{Table: d.Table, ID: id, Data: make(map[string]any)}
	ops := make(map[string][]query.Op)

	for _, key := range sortedKeys(payload) {
		if key == "id" {
			continue
		}
		value := payload[key]

		if f, ok := d.Field(key); ok {
			if f.Hidden || f.ReadOnly {
				return nil, errs.New(errs.ValidationError, "%s.%s is read-only", d.Kind, key)
			}
			v, err := s.column(f, value)
			if err != nil {
				return nil, errs.Wrap(errs.ValidationError, err, "%s.%s", d.Kind, key)
			}
			w.Data[f.Column] = v
			continue
		}

		rel, op, ok := splitKey(d, key)
		if !ok {
			return nil, errs.New(errs.ValidationError, "%s has no writable field %q", d.Kind, key)
		}
		rule, ok := d.Mutate.Rule(rel.Name)
		if !ok {
			return nil, errs.New(errs.ValidationError, "%s.%s cannot be written", d.Kind, rel.Name)
		}
		if !allowed(rule, op) {
			return nil, errs.New(errs.ValidationError, "%s.%s does not allow %s", d.Kind, rel.Name, op)
		}

		ops[rel.Name] = append(ops[rel.Name], op)
		if rule.Cardinality == registry.One && len(ops[rel.Name]) > 1 {
			return nil, errs.New(errs.ConflictingRelationOperation, "%s.%s: %s and %s in one payload",
				d.Kind, rel.Name, ops[rel.Name][0], op)
		}

		rw, err := s.relation(rel, rule, op, value, sidecar)
		if err != nil {
			return nil, err
		}
		if rw != nil {
			w.Relations = append(w.Relations, rw)
		}
	}

	if create {
		for _, rule := range d.Mutate.Rules {
			if rule.Required && rule.Relation != inverse && len(ops[rule.Relation]) == 0 {
				return nil, errs.New(errs.ValidationError, "%s.%s is required", d.Kind, rule.Relation)
			}
		}
	}

	for col, v := range sidecar[id] {
		w.Data[col] = v
	}

	return w, nil
}

func (s *Shaper) relation(rel registry.Relation, rule registry.RelationRule, op query.Op, value any, sidecar registry.Sidecar) (*query.RelationWrite, error) {
	rw := &query.RelationWrite{Name: rel.Name, Link: rel.Link, Op: op}
	many := rule.Cardinality == registry.Many

	switch op {
	case query.Connect:
		ids, err := idList(value, many)
		if err != nil {
			return nil, errs.Wrap(errs.ValidationError, err, "%s%s", rel.Name, op)
		}
		rw.IDs = ids

	case query.Disconnect, query.Delete:
		if !many {
			switch t := value.(type) {
			case bool:
				if !t {
					return nil, nil
				}
				return rw, nil
			case string:
				rw.IDs = []string{t}
				return rw, nil
			}
			return nil, errs.New(errs.ValidationError, "%s%s expects true", rel.Name, op)
		}
		ids, err := idList(value, true)
		if err != nil {
			return nil, errs.Wrap(errs.ValidationError, err, "%s%s", rel.Name, op)
		}
		rw.IDs = ids

	case query.Create, query.Update:
		target, err := s.registry.Resolve(rel.Kind)
		if err != nil {
			return nil, err
		}
		payloads, err := payloadList(value, many)
		if err != nil {
			return nil, errs.Wrap(errs.ValidationError, err, "%s%s", rel.Name, op)
		}
		inverse := ""
		if !rel.Link.BelongsTo() && rel.Link.Through == nil {
			inverse = inverseOf(target, rel.Link.ForeignKey)
		}
		for _, p := range payloads {
			nested, err := s.build(target, p, op == query.Create, sidecar, inverse)
			if err != nil {
				return nil, err
			}
			rw.Writes = append(rw.Writes, nested)
		}
	}

	return rw, nil
}

// inverseOf names the belongs-to relation of d stored in column.
func inverseOf(d *registry.Descriptor, column string) string {
	for _, r := range d.Relations {
		if r.Link.LocalKey == column {
			return r.Name
		}
	}
	return ""
}

// column converts a payload value to the stored representation of f.
func (s *Shaper) column(f registry.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if f.Compressed {
		text, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s.codec.Encode([]byte(text))
	}

	switch f.Type {
	case registry.String:
		if t, ok := v.(string); ok {
			return t, nil
		}
	case registry.Int:
		switch t := v.(type) {
		case int:
			return int64(t), nil
		case int64:
			return t, nil
		case float64:
			if t == math.Trunc(t) {
				return int64(t), nil
			}
		}
	case registry.Float:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		}
	case registry.Bool:
		if t, ok := v.(bool); ok {
			return t, nil
		}
	case registry.Time:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		}
	}

	return nil, fmt.Errorf("unexpected %T", v)
}

// splitKey resolves <relation><Op>. The longest matching relation wins.
func splitKey(d *registry.Descriptor, key string) (registry.Relation, query.Op, bool) {
	for _, op := range query.Ops {
		name, ok := strings.CutSuffix(key, string(op))
		if !ok || name == "" {
			continue
		}
		if rel, ok := d.Relation(name); ok {
			return rel, op, true
		}
	}
	return registry.Relation{}, "", false
}

func allowed(rule registry.RelationRule, op query.Op) bool {
	return mapset.NewThreadUnsafeSet(rule.Ops...).Contains(op)
}

func idList(v any, many bool) ([]string, error) {
	if !many {
		id, ok := v.(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("expected an id, got %T", v)
		}
		return []string{id}, nil
	}

	var ids []string
	switch t := v.(type) {
	case []string:
		ids = t
	case []any:
		for _, item := range t {
			id, ok := item.(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("expected ids, got %T", item)
			}
			ids = append(ids, id)
		}
	default:
		return nil, fmt.Errorf("expected a list of ids, got %T", v)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty id list")
	}
	return ids, nil
}

func payloadList(v any, many bool) ([]registry.Payload, error) {
	asPayload := func(item any) (registry.Payload, error) {
		if p, ok := item.(map[string]any); ok {
			return p, nil
		}
		return nil, fmt.Errorf("expected an object, got %T", item)
	}

	if !many {
		p, err := asPayload(v)
		if err != nil {
			return nil, err
		}
		return []registry.Payload{p}, nil
	}

	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []registry.Payload:
		for _, p := range t {
			items = append(items, map[string]any(p))
		}
	default:
		return nil, fmt.Errorf("expected a list of objects, got %T", v)
	}

	out := make([]registry.Payload, 0, len(items))
	for _, item := range items {
		p, err := asPayload(item)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func sortedKeys(p registry.Payload) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

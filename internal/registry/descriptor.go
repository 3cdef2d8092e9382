package registry

import (
	"context"

	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/store"
)

// TypenameField is the identity field naming an object's kind.
const TypenameField = "__typename"

// FieldType is the client-facing type of a scalar field.
type FieldType int

const (
	String FieldType = iota
	Int
	Float
	Bool
	Time
)

// Field maps a client field to a storage column.
type Field struct {
	Name   string
	Column string
	Type   FieldType
	// Hidden fields are selected for internal use but never returned.
	Hidden bool
	// ReadOnly fields cannot be written by mutation payloads.
	ReadOnly bool
	// Compressed fields are stored encoded and decoded on read.
	Compressed bool
}

// Relation maps a client field to a related kind.
type Relation struct {
	Name string
	// Storage is the key the store writes the related row(s) under.
	Storage string
	Kind    kind.Kind
	Link    query.Link
}

// Union is a field populated by exactly one of several related kinds.
// Branches are tagged by their kind.
type Union struct {
	Name     string
	Branches []Relation
}

// Branch returns the branch for k.
func (u Union) Branch(k kind.Kind) (Relation, bool) {
	for _, b := range u.Branches {
		if b.Kind == k {
			return b, true
		}
	}
	return Relation{}, false
}

// CountField is a derived count over a one-to-many link.
type CountField struct {
	Name string
	Link query.Link
}

// Object is a client-shaped object.
type Object = map[string]any

// Env gives supplemental resolvers access to cross-kind engine services.
type Env interface {
	Capabilities(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]perm.Set, error)
	Bookmarked(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]bool, error)
	Reactions(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]string, error)
}

// SupplementalInput is handed to a supplemental resolver.
type SupplementalInput struct {
	Kind    kind.Kind
	IDs     []string
	Objects []Object
	// Rows are the stored rows behind Objects, carrying Supplemental.Columns.
	Rows   []query.Row
	Fields []string
	Viewer perm.Viewer
	Env    Env
}

// SupplementalFunc returns, per requested field, one value per input id in
// input order. Ids that no longer resolve get a neutral value.
type SupplementalFunc func(ctx context.Context, in SupplementalInput) (map[string][]any, error)

// Supplemental declares fields computed after the primary fetch.
type Supplemental struct {
	Fields []string
	// Columns are storage columns the resolver needs on every object.
	Columns []string
	Resolve SupplementalFunc
}

// Has reports whether name is a supplemental field.
func (s *Supplemental) Has(name string) bool {
	if s == nil {
		return false
	}
	for _, f := range s.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Display is the minimal projection used to label an object.
type Display struct {
	Select *query.Select
	Label  func(row query.Row) string
}

// Cardinality of a relation rule.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

// RelationRule declares which operations a mutation payload may apply to a relation.
type RelationRule struct {
	Relation    string
	Ops         []query.Op
	Cardinality Cardinality
	Required    bool
}

// Payload is a flat mutation payload.
type Payload = map[string]any

// Batch groups the payloads of one mutation call.
type Batch struct {
	Creates []Payload
	Updates []Payload
	Deletes []string
}

// Sidecar holds values derived by a Pre hook, keyed by payload id then column.
type Sidecar map[string]map[string]any

// HookInput is handed to mutation hooks.
type HookInput struct {
	Kind   kind.Kind
	Tx     store.Store
	Viewer perm.Viewer
	Batch  Batch
	// Created, Updated and Deleted hold row ids once rows are applied.
	Created []string
	Updated []string
	Deleted []string
	// DeletedRows are the permission rows of Deleted, read before deletion.
	DeletedRows []query.Row
}

// AuthorizeInput is handed to a kind's extra authorization.
type AuthorizeInput struct {
	Kind    kind.Kind
	Viewer  perm.Viewer
	Payload Payload
	Env     Env
	// Update is set when Payload updates an existing row.
	Update bool
}

type (
	PreFunc       func(ctx context.Context, in HookInput) (Sidecar, error)
	FinalizeFunc  func(ctx context.Context, in HookInput) error
	PostFunc      func(ctx context.Context, in HookInput) ([]queue.Event, error)
	AuthorizeFunc func(ctx context.Context, in AuthorizeInput) error
)

// MutateSpec declares how payloads of a kind become writes.
type MutateSpec struct {
	Rules []RelationRule
	// CreateSchema and UpdateSchema are validator rules keyed by payload field.
	CreateSchema map[string]any
	UpdateSchema map[string]any
	// Pre runs once per batch inside the transaction before rows are built.
	Pre PreFunc
	// Finalize runs inside the transaction after rows are applied.
	Finalize FinalizeFunc
	// Post runs after commit and returns outbound events.
	Post PostFunc
	// Authorize adds kind-specific checks to each create and update payload.
	Authorize AuthorizeFunc
	// DisableCreate rejects creates; rows of the kind are made elsewhere.
	DisableCreate bool
	// SoftDelete names the flag column set by deletes instead of removing rows.
	SoftDelete string
}

// Rule returns the rule for a relation.
func (m *MutateSpec) Rule(relation string) (RelationRule, bool) {
	for _, r := range m.Rules {
		if r.Relation == relation {
			return r, true
		}
	}
	return RelationRule{}, false
}

// FilterFunc builds a filter from a search input value.
type FilterFunc func(value any) (query.Filter, error)

// SearchSpec declares how a kind is searched.
type SearchSpec struct {
	DefaultSort string
	Sorts       map[string][]query.Order
	Filters     map[string]FilterFunc
	Text        func(text string) query.Filter
}

// Visibility holds the three predicate fragments of a kind. Each fragment is
// a query.Filter so the same value is matched in memory and compiled to SQL.
type Visibility struct {
	Private func(v perm.Viewer) query.Filter
	Public  func(v perm.Viewer) query.Filter
	Owner   func(v perm.Viewer) query.Filter
}

// ValidateSpec declares the authorization behaviour of a kind.
type ValidateSpec struct {
	// Deleted matches soft-deleted rows; nil means rows are never soft-deleted.
	Deleted      query.Filter
	Visibility   Visibility
	Owner        *OwnerSpec
	Transferable bool
	// MaxObjects caps how many objects one owner may hold; 0 is unlimited.
	MaxObjects   func(owner perm.Owner) int
	Capabilities perm.Resolver
	// PermissionsSelect is the minimal selection authorization needs.
	PermissionsSelect *query.Select
}

// Counters names the denormalized engagement columns of a kind.
type Counters struct {
	Score     string
	Bookmarks string
	Views     string
}

// VersionSpec marks a kind as the version half of a root/version pair.
type VersionSpec struct {
	RootKind   kind.Kind
	RootColumn string
	// RootRelation is the payload relation naming the root.
	RootRelation string
	Index        string
	Latest       string
	Private      string
	Complete     string
	Parent       string
}

// RootSpec marks a kind as the root half of a root/version pair.
type RootSpec struct {
	VersionKind kind.Kind
	// CompleteFlag is the aggregate column set when any version is complete.
	CompleteFlag string
	// Parent is the derivation lineage column referencing a version.
	Parent string
}

// Descriptor is everything the engine knows about one kind.
type Descriptor struct {
	Kind         kind.Kind
	Table        string
	Handle       string
	Fields       []Field
	Relations    []Relation
	Unions       []Union
	Counts       []CountField
	Supplemental *Supplemental
	Display      Display
	Mutate       *MutateSpec
	Search       *SearchSpec
	Validate     ValidateSpec
	Counters     *Counters
	Version      *VersionSpec
	Root         *RootSpec
}

func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (d *Descriptor) Relation(name string) (Relation, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

func (d *Descriptor) Union(name string) (Union, bool) {
	for _, u := range d.Unions {
		if u.Name == name {
			return u, true
		}
	}
	return Union{}, false
}

func (d *Descriptor) Count(name string) (CountField, bool) {
	for _, c := range d.Counts {
		if c.Name == name {
			return c, true
		}
	}
	return CountField{}, false
}

// IsDeleted reports whether a fetched row falls outside NotDeleted. A row
// whose deleted predicate is unknown counts as deleted, as it does in SQL.
func (d *Descriptor) IsDeleted(row query.Row) bool {
	if d.Validate.Deleted == nil {
		return false
	}
	return !query.Match(d.NotDeleted(), row)
}

// NotDeleted returns the filter excluding soft-deleted rows.
func (d *Descriptor) NotDeleted() query.Filter {
	if d.Validate.Deleted == nil {
		return query.True()
	}
	return query.Not(d.Validate.Deleted)
}

// CapabilitiesOf applies the kind's capability resolver.
func (d *Descriptor) CapabilitiesOf(ctx perm.Context) perm.Set {
	if d.Validate.Capabilities != nil {
		return d.Validate.Capabilities(ctx)
	}
	return perm.Default(ctx)
}

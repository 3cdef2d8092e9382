package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emrgen/omnistore/internal/authz"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MutateResult holds the shaped objects written by a batch. Objects the
// viewer cannot read afterwards are left out.
type MutateResult struct {
	Created []registry.Object
	Updated []registry.Object
	Deleted []string
	Events  []queue.Event
}

// Mutate applies a batch of creates, updates and deletes of one kind in a
// single transaction. Validation, authorization and shaping failures abort
// the batch before anything is written.
func (e *Engine) Mutate(ctx context.Context, k kind.Kind, batch registry.Batch, sel projector.Selection, viewer perm.Viewer) (result *MutateResult, err error) {
	defer e.observe(k, "mutate", time.Now(), &err)

	d, err := e.registry.Resolve(k)
	if err != nil {
		return nil, err
	}
	if d.Mutate == nil {
		return nil, errs.New(errs.ValidationError, "%s cannot be mutated", k)
	}
	result = &MutateResult{}
	if len(batch.Creates)+len(batch.Updates)+len(batch.Deletes) == 0 {
		return result, nil
	}
	if !viewer.LoggedIn() {
		return nil, errs.New(errs.PermissionDenied, "mutations require a signed-in viewer")
	}

	if err := e.prepare(d, batch); err != nil {
		return nil, err
	}
	q, err := e.selection(d, sel)
	if err != nil {
		return nil, err
	}

	for _, p := range batch.Creates {
		if err := e.authorizeCreate(ctx, d, p, viewer); err != nil {
			return nil, err
		}
	}
	if err := e.authorizeUpdates(ctx, d, batch.Updates, viewer); err != nil {
		return nil, err
	}
	deletedRows, err := e.authorizeDeletes(ctx, d, batch.Deletes, viewer)
	if err != nil {
		return nil, err
	}

	in := registry.HookInput{Kind: k, Viewer: viewer, Batch: batch}
	err = e.store.Transaction(ctx, func(tx store.Store) error {
		in.Tx = tx

		sidecar := make(registry.Sidecar)
		if d.Mutate.Pre != nil {
			sc, err := d.Mutate.Pre(ctx, in)
			if err != nil {
				return err
			}
			for id, cols := range sc {
				sidecar[id] = cols
			}
		}

		writes := make([]*query.Write, 0, len(batch.Creates)+len(batch.Updates))
		for i, p := range append(append([]registry.Payload(nil), batch.Creates...), batch.Updates...) {
			w, err := e.shaper.Build(d, p, i < len(batch.Creates), sidecar)
			if err != nil {
				return err
			}
			writes = append(writes, w)
		}

		for i, w := range writes {
			create := i < len(batch.Creates)
			if err := tx.Apply(ctx, w, create); err != nil {
				return err
			}
			if create {
				in.Created = append(in.Created, w.ID)
			} else {
				in.Updated = append(in.Updated, w.ID)
			}
		}

		if len(batch.Deletes) > 0 {
			if d.Mutate.SoftDelete != "" {
				_, err := tx.UpdateWhere(ctx, d.Table, query.In("id", batch.Deletes), map[string]any{d.Mutate.SoftDelete: true})
				if err != nil {
					return err
				}
			} else if err := tx.Delete(ctx, d.Table, batch.Deletes); err != nil {
				return err
			}
			in.Deleted = batch.Deletes
			in.DeletedRows = deletedRows
		}

		if d.Mutate.Finalize != nil {
			return d.Mutate.Finalize(ctx, in)
		}
		return nil
	})
	if err != nil {
		return nil, internal(err, "mutating %s", k)
	}
	in.Tx = nil

	result.Deleted = in.Deleted
	result.Events = e.post(ctx, d, in)

	if k == kind.Organization || k == kind.Member {
		viewer = e.refreshViewers(ctx, viewer, batch, deletedRows)
	}

	if result.Created, err = e.readable(ctx, d, q, in.Created, sel, viewer); err != nil {
		return nil, err
	}
	if result.Updated, err = e.readable(ctx, d, q, in.Updated, sel, viewer); err != nil {
		return nil, err
	}
	return result, nil
}

// prepare assigns ids to creates and validates payloads against the kind's
// schemas.
func (e *Engine) prepare(d *registry.Descriptor, batch registry.Batch) error {
	if len(batch.Creates) > 0 && d.Mutate.DisableCreate {
		return errs.New(errs.ValidationError, "%s cannot be created", d.Kind)
	}

	seen := make(map[string]bool)
	for _, p := range batch.Creates {
		id, _ := p["id"].(string)
		if id == "" {
			id = uuid.NewString()
			p["id"] = id
		}
		if seen[id] {
			return errs.New(errs.ValidationError, "%s %s appears twice in one batch", d.Kind, id)
		}
		seen[id] = true
		if err := e.validatePayload(d, p, d.Mutate.CreateSchema); err != nil {
			return err
		}
	}

	for _, p := range batch.Updates {
		id, _ := p["id"].(string)
		if id == "" {
			return errs.New(errs.ValidationError, "%s update without id", d.Kind)
		}
		if seen[id] {
			return errs.New(errs.ValidationError, "%s %s appears twice in one batch", d.Kind, id)
		}
		seen[id] = true
		if err := e.validatePayload(d, p, d.Mutate.UpdateSchema); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) validatePayload(d *registry.Descriptor, p registry.Payload, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	failures := e.validate.ValidateMap(p, schema)
	if len(failures) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(failures))
	for name, err := range failures {
		msgs = append(msgs, fmt.Sprintf("%s: %v", name, err))
	}
	sort.Strings(msgs)
	return errs.New(errs.ValidationError, "%s payload: %s", d.Kind, strings.Join(msgs, "; "))
}

// authorizeCreate checks the viewer may create p. Owner-held kinds default
// their owner to the viewer and enforce the per-owner cap; kinds owned
// through a related row require update rights on it.
func (e *Engine) authorizeCreate(ctx context.Context, d *registry.Descriptor, p registry.Payload, viewer perm.Viewer) error {
	if d.Mutate != nil && d.Mutate.DisableCreate {
		return errs.New(errs.ValidationError, "%s cannot be created", d.Kind)
	}

	o := d.Validate.Owner
	switch {
	case o != nil && o.Via != nil:
		target, err := e.registry.Resolve(o.Via.Kind)
		if err != nil {
			return err
		}
		if id, ok := p[o.Via.Relation+string(query.Connect)].(string); ok && id != "" {
			if err := e.require(ctx, target, id, viewer, perm.CanUpdate); err != nil {
				return err
			}
		} else if nested, ok := p[o.Via.Relation+string(query.Create)].(map[string]any); ok {
			if err := e.authorizeCreate(ctx, target, nested, viewer); err != nil {
				return err
			}
		}

	case o != nil:
		owner, err := creationOwner(o, p, viewer)
		if err != nil {
			return err
		}
		if !owner.OwnedBy(viewer) {
			return errs.New(errs.PermissionDenied, "cannot create %s for %s %s", d.Kind, owner.Kind, owner.ID)
		}
		if d.Validate.MaxObjects != nil {
			if limit := d.Validate.MaxObjects(owner); limit > 0 {
				n, err := e.store.Count(ctx, d.Table, query.And(o.OwnedByFilter(owner), d.NotDeleted()))
				if err != nil {
					return internal(err, "counting %s", d.Kind)
				}
				if n >= int64(limit) {
					return errs.New(errs.ObjectCapExceeded, "%s %s already holds %d %s objects", owner.Kind, owner.ID, n, d.Kind)
				}
			}
		}
	}

	if d.Mutate != nil && d.Mutate.Authorize != nil {
		return d.Mutate.Authorize(ctx, registry.AuthorizeInput{Kind: d.Kind, Viewer: viewer, Payload: p, Env: e})
	}
	return nil
}

// creationOwner reads the owner a create payload names, defaulting to the
// viewer. The default is written back into the payload.
func creationOwner(o *registry.OwnerSpec, p registry.Payload, viewer perm.Viewer) (perm.Owner, error) {
	var userID, orgID string
	if o.UserRelation != "" {
		userID, _ = p[o.UserRelation+string(query.Connect)].(string)
	}
	if o.OrganizationRelation != "" {
		orgID, _ = p[o.OrganizationRelation+string(query.Connect)].(string)
	}

	switch {
	case userID != "" && orgID != "":
		return perm.Owner{}, errs.New(errs.ValidationError, "an object is owned by a user or an organization, not both")
	case orgID != "":
		return perm.Owner{Kind: kind.Organization, ID: orgID}, nil
	case userID != "":
		return perm.Owner{Kind: kind.User, ID: userID}, nil
	}

	if o.UserRelation != "" {
		p[o.UserRelation+string(query.Connect)] = viewer.ID
	}
	return perm.Owner{Kind: kind.User, ID: viewer.ID}, nil
}

func (e *Engine) authorizeUpdates(ctx context.Context, d *registry.Descriptor, payloads []registry.Payload, viewer perm.Viewer) error {
	if len(payloads) == 0 {
		return nil
	}

	ids := make([]string, len(payloads))
	for i, p := range payloads {
		ids[i], _ = p["id"].(string)
	}
	sets, _, err := e.authz.Resolve(ctx, d, ids, viewer)
	if err != nil {
		return internal(err, "authorizing %s", d.Kind)
	}

	o := d.Validate.Owner
	for i, p := range payloads {
		if err := authz.Require(d, ids[i], sets[i], perm.CanUpdate); err != nil {
			return err
		}
		if d.Mutate.Authorize != nil {
			err := d.Mutate.Authorize(ctx, registry.AuthorizeInput{Kind: d.Kind, Viewer: viewer, Payload: p, Env: e, Update: true})
			if err != nil {
				return err
			}
		}
		if o == nil {
			continue
		}

		if o.Via != nil {
			if id, ok := p[o.Via.Relation+string(query.Connect)].(string); ok && id != "" {
				target, err := e.registry.Resolve(o.Via.Kind)
				if err != nil {
					return err
				}
				if err := e.require(ctx, target, id, viewer, perm.CanUpdate); err != nil {
					return err
				}
			}
			continue
		}

		if err := transfer(d, o, p, ids[i], sets[i], viewer); err != nil {
			return err
		}
	}
	return nil
}

// transfer authorizes an owner change and clears the other owner column so
// the row never holds both.
func transfer(d *registry.Descriptor, o *registry.OwnerSpec, p registry.Payload, id string, set perm.Set, viewer perm.Viewer) error {
	userKey := o.UserRelation + string(query.Connect)
	orgKey := o.OrganizationRelation + string(query.Connect)

	var userID, orgID string
	if o.UserRelation != "" {
		userID, _ = p[userKey].(string)
	}
	if o.OrganizationRelation != "" {
		orgID, _ = p[orgKey].(string)
	}
	if userID == "" && orgID == "" {
		return nil
	}

	if !set.Has(perm.CanTransfer) {
		return errs.New(errs.PermissionDenied, "%s %s cannot be transferred", d.Kind, id)
	}

	var owner perm.Owner
	switch {
	case userID != "" && orgID != "":
		return errs.New(errs.ValidationError, "an object is owned by a user or an organization, not both")
	case userID != "":
		owner = perm.Owner{Kind: kind.User, ID: userID}
		if o.OrganizationRelation != "" {
			p[o.OrganizationRelation+string(query.Disconnect)] = true
		}
	default:
		owner = perm.Owner{Kind: kind.Organization, ID: orgID}
		if o.UserRelation != "" {
			p[o.UserRelation+string(query.Disconnect)] = true
		}
	}

	if !owner.OwnedBy(viewer) {
		return errs.New(errs.PermissionDenied, "cannot transfer %s %s to %s %s", d.Kind, id, owner.Kind, owner.ID)
	}
	return nil
}

func (e *Engine) authorizeDeletes(ctx context.Context, d *registry.Descriptor, ids []string, viewer perm.Viewer) ([]query.Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sets, rows, err := e.authz.Resolve(ctx, d, ids, viewer)
	if err != nil {
		return nil, internal(err, "authorizing %s", d.Kind)
	}
	for i, id := range ids {
		if err := authz.Require(d, id, sets[i], perm.CanDelete); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (e *Engine) require(ctx context.Context, d *registry.Descriptor, id string, viewer perm.Viewer, c perm.Capability) error {
	sets, _, err := e.authz.Resolve(ctx, d, []string{id}, viewer)
	if err != nil {
		return internal(err, "authorizing %s", d.Kind)
	}
	return authz.Require(d, id, sets[0], c)
}

// post runs the kind's Post hook, labels its events and publishes them.
// Nothing here fails the committed batch.
func (e *Engine) post(ctx context.Context, d *registry.Descriptor, in registry.HookInput) []queue.Event {
	if d.Mutate.Post == nil {
		return nil
	}

	events, err := d.Mutate.Post(ctx, in)
	if err != nil {
		logrus.WithField("kind", d.Kind).Errorf("engine: post hook failed: %v", err)
		return nil
	}
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Label == "" && ev.Kind == d.Kind {
			ids = append(ids, ev.ObjectID)
		}
	}
	labels, err := e.labels(ctx, d, ids)
	if err != nil {
		logrus.WithField("kind", d.Kind).Warnf("engine: cannot label events: %v", err)
	}
	for i := range events {
		if l, ok := labels[events[i].ObjectID]; ok && events[i].Label == "" {
			events[i].Label = l
		}
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, events...); err != nil {
			logrus.WithField("kind", d.Kind).Errorf("engine: failed to publish %d events: %v", len(events), err)
		}
	}
	return events
}

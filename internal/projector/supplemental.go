package projector

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/omnistore/internal/metrics"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// supplement resolves supplemental fields for every collected kind in
// parallel. A failing resolver only drops its own fields.
func (p *Projector) supplement(ctx context.Context, run *run, viewer perm.Viewer, env registry.Env) {
	if len(run.kinds) == 0 {
		return
	}

	results := make([]map[string][]any, len(run.kinds))
	var g errgroup.Group
	for i, k := range run.kinds {
		i := i
		pk := run.pending[k]
		g.Go(func() error {
			results[i] = p.resolve(ctx, pk, viewer, env)
			return nil
		})
	}
	_ = g.Wait()

	for i, k := range run.kinds {
		pk := run.pending[k]
		values := results[i]
		for _, field := range requested(pk).ToSlice() {
			column, ok := values[field]
			if !ok || len(column) != len(pk.objects) {
				logrus.WithFields(logrus.Fields{"kind": k, "field": field}).
					Warnf("projector: supplemental field omitted: got %d values for %d objects", len(column), len(pk.objects))
				metrics.RecordSupplementalFailure(string(k), field)
				continue
			}
			for j, obj := range pk.objects {
				if wants(pk.wants[j], field) {
					obj[field] = column[j]
				}
			}
		}
	}
}

func (p *Projector) resolve(ctx context.Context, pk *pendingKind, viewer perm.Viewer, env registry.Env) (values map[string][]any) {
	d := pk.descriptor
	fields := requested(pk)

	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("projector: supplemental resolver for %s panicked: %v", d.Kind, r)
			values = nil
		}
	}()

	ids := make([]string, len(pk.objects))
	for i, obj := range pk.objects {
		ids[i] = fmt.Sprint(obj["id"])
	}

	values, err := d.Supplemental.Resolve(ctx, registry.SupplementalInput{
		Kind:    d.Kind,
		IDs:     ids,
		Objects: pk.objects,
		Rows:    pk.rows,
		Fields:  fields.ToSlice(),
		Viewer:  viewer,
		Env:     env,
	})
	if err != nil {
		logrus.Errorf("projector: supplemental resolver for %s failed: %v", d.Kind, err)
		return nil
	}
	return values
}

func requested(pk *pendingKind) mapset.Set[string] {
	fields := mapset.NewThreadUnsafeSet[string]()
	for _, w := range pk.wants {
		fields.Append(w...)
	}
	return fields
}

func wants(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/omnistore/internal/cache"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/query"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/sirupsen/logrus"
)

func viewerKey(userID string) string {
	return fmt.Sprintf("viewer:%s:organizations", userID)
}

// ViewerFor builds the viewer of a signed-in user, including the
// organizations they administer. An empty id is the anonymous viewer.
func (e *Engine) ViewerFor(ctx context.Context, userID string) (perm.Viewer, error) {
	if userID == "" {
		return perm.Anonymous, nil
	}

	var orgs []string
	ok, err := cache.GetJSON(ctx, e.cache, viewerKey(userID), &orgs)
	if err != nil {
		logrus.Warnf("engine: viewer cache read failed: %v", err)
	}
	if ok {
		return perm.Viewer{ID: userID, Organizations: orgs}, nil
	}

	orgs, err = e.store.ListAdminOrganizations(ctx, userID)
	if err != nil {
		return perm.Viewer{}, internal(err, "loading viewer %s", userID)
	}
	if err := cache.SetJSON(ctx, e.cache, viewerKey(userID), orgs, viewerTTL); err != nil {
		logrus.Warnf("engine: viewer cache write failed: %v", err)
	}
	return perm.Viewer{ID: userID, Organizations: orgs}, nil
}

// refreshViewers drops the cached organizations of every user a membership
// batch touched and returns the refreshed acting viewer.
func (e *Engine) refreshViewers(ctx context.Context, viewer perm.Viewer, batch registry.Batch, deleted []query.Row) perm.Viewer {
	users := mapset.NewThreadUnsafeSet(viewer.ID)
	for _, p := range append(append([]registry.Payload(nil), batch.Creates...), batch.Updates...) {
		if id, ok := p["userConnect"].(string); ok && id != "" {
			users.Add(id)
		}
	}
	for _, r := range deleted {
		if id := r.String("user_id"); id != "" {
			users.Add(id)
		}
	}

	for _, id := range users.ToSlice() {
		if err := e.cache.Delete(ctx, viewerKey(id)); err != nil {
			logrus.Warnf("engine: viewer cache delete failed: %v", err)
		}
	}

	refreshed, err := e.ViewerFor(ctx, viewer.ID)
	if err != nil {
		logrus.Errorf("engine: cannot refresh viewer %s: %v", viewer.ID, err)
		return viewer
	}
	return refreshed
}

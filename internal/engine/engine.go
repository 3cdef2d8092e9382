package engine

import (
	"context"
	"errors"
	"time"

	"github.com/emrgen/omnistore/internal/authz"
	"github.com/emrgen/omnistore/internal/cache"
	"github.com/emrgen/omnistore/internal/compress"
	"github.com/emrgen/omnistore/internal/engagement"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/metrics"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/queue"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/emrgen/omnistore/internal/shaper"
	"github.com/emrgen/omnistore/internal/store"
	"github.com/go-playground/validator/v10"
)

const (
	defaultTake = 20
	maxTake     = 100

	viewerTTL = 5 * time.Minute
)

var _ registry.Env = (*Engine)(nil)

// Engine exposes the uniform read, write and search operations over every
// registered kind.
type Engine struct {
	registry  *registry.Registry
	store     store.Store
	projector *projector.Projector
	shaper    *shaper.Shaper
	authz     *authz.Authorizer
	tracker   *engagement.Tracker
	cache     cache.Cache
	publisher queue.Publisher
	validate  *validator.Validate
}

type Options struct {
	Codec        compress.Compress
	Cache        cache.Cache
	Publisher    queue.Publisher
	Scores       engagement.Scores
	ViewCooldown time.Duration
	Clock        func() time.Time
}

func New(reg *registry.Registry, s store.Store, opts Options) *Engine {
	if opts.Codec == nil {
		opts.Codec = compress.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory(opts.Clock)
	}

	trackerOpts := []engagement.Option{
		engagement.WithClock(opts.Clock),
		engagement.WithCooldown(opts.ViewCooldown),
		engagement.WithPublisher(opts.Publisher),
	}
	if opts.Scores != nil {
		trackerOpts = append(trackerOpts, engagement.WithScores(opts.Scores))
	}

	return &Engine{
		registry:  reg,
		store:     s,
		projector: projector.New(reg, opts.Codec),
		shaper:    shaper.New(reg, opts.Codec),
		authz:     authz.New(s),
		tracker:   engagement.New(reg, s, opts.Cache, trackerOpts...),
		cache:     opts.Cache,
		publisher: opts.Publisher,
		validate:  validator.New(),
	}
}

func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Capabilities resolves one capability set per id in input order.
func (e *Engine) Capabilities(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]perm.Set, error) {
	d, err := e.registry.Resolve(k)
	if err != nil {
		return nil, err
	}
	sets, _, err := e.authz.Resolve(ctx, d, ids, viewer)
	return sets, err
}

func (e *Engine) Bookmarked(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]bool, error) {
	return e.tracker.IsBookmarked(ctx, k, ids, viewer)
}

func (e *Engine) Reactions(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) ([]string, error) {
	return e.tracker.Reactions(ctx, k, ids, viewer)
}

// ResolveCapabilities is the exposed form of Capabilities.
func (e *Engine) ResolveCapabilities(ctx context.Context, k kind.Kind, ids []string, viewer perm.Viewer) (sets []perm.Set, err error) {
	defer e.observe(k, "capabilities", time.Now(), &err)
	return e.Capabilities(ctx, k, ids, viewer)
}

func (e *Engine) observe(k kind.Kind, op string, start time.Time, err *error) {
	code := "OK"
	if *err != nil {
		code = string(errs.CodeOf(*err))
	}
	metrics.RecordOperation(string(k), op, code, time.Since(start))
}

// internal wraps errors that did not come from the engine's components.
func internal(err error, format string, args ...any) error {
	var e *errs.Error
	if err == nil || errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.Internal, err, format, args...)
}

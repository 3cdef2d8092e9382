package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/emrgen/omnistore/internal/engine"
	"github.com/emrgen/omnistore/internal/errs"
	"github.com/emrgen/omnistore/internal/kind"
	"github.com/emrgen/omnistore/internal/perm"
	"github.com/emrgen/omnistore/internal/projector"
	"github.com/emrgen/omnistore/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

type ctxKey int

const (
	viewerKey ctxKey = iota
	kindKey
)

// API serves the engine operations as a json api.
type API struct {
	engine   *engine.Engine
	validate *validator.Validate
}

func NewAPI(e *engine.Engine) *API {
	return &API{
		engine:   e,
		validate: validator.New(),
	}
}

// Routes mounts every endpoint under /v1.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.viewer)

	r.Get("/v1/kinds", a.kinds)
	r.Route("/v1/{kind}", func(r chi.Router) {
		r.Use(a.kind)
		r.Post("/read", a.read)
		r.Post("/mutate", a.mutate)
		r.Post("/search", a.search)
		r.Post("/capabilities", a.capabilities)
		r.Post("/bookmarked", a.bookmarked)
		r.Post("/reaction/{id}", a.react)
		r.Put("/bookmark/{id}", a.bookmark)
		r.Delete("/bookmark/{id}", a.unbookmark)
		r.Post("/view/{id}", a.view)
	})

	return r
}

func (a *API) kind(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := a.engine.Registry().Parse(chi.URLParam(r, "kind"))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), kindKey, d.Kind)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func kindFrom(ctx context.Context) kind.Kind {
	k, _ := ctx.Value(kindKey).(kind.Kind)
	return k
}

func viewerFrom(ctx context.Context) perm.Viewer {
	v, ok := ctx.Value(viewerKey).(perm.Viewer)
	if !ok {
		return perm.Anonymous
	}
	return v
}

type readRequest struct {
	ID         string         `json:"id"`
	Handle     string         `json:"handle"`
	RootID     string         `json:"rootId"`
	RootHandle string         `json:"rootHandle"`
	Select     map[string]any `json:"select"`
}

type mutateRequest struct {
	Creates []registry.Payload `json:"creates"`
	Updates []registry.Payload `json:"updates"`
	Deletes []string           `json:"deletes" validate:"dive,required"`
	Select  map[string]any     `json:"select"`
}

type mutateResponse struct {
	Created []registry.Object `json:"created"`
	Updated []registry.Object `json:"updated"`
	Deleted []string          `json:"deleted"`
}

type searchRequest struct {
	Filters    map[string]any `json:"filters"`
	Text       string         `json:"text"`
	Sort       string         `json:"sort"`
	After      string         `json:"after"`
	Take       int            `json:"take" validate:"gte=0"`
	Visibility string         `json:"visibility"`
	Select     map[string]any `json:"select"`
}

type searchResponse struct {
	Edges       []registry.Object `json:"edges"`
	HasNextPage bool              `json:"hasNextPage"`
	EndCursor   string            `json:"endCursor"`
}

type idsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type reactionSummary struct {
	Emoji string `json:"emoji"`
	Count int64  `json:"count"`
}

type reactResponse struct {
	Emoji     string            `json:"emoji"`
	Previous  string            `json:"previous"`
	Delta     int64             `json:"delta"`
	Score     int64             `json:"score"`
	Summaries []reactionSummary `json:"summaries"`
}

type bookmarkRequest struct {
	List string `json:"list"`
}

func (a *API) kinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Registry().Kinds())
}

func (a *API) read(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !a.decode(w, r, &req) {
		return
	}
	sel, err := projector.ParseSelection(req.Select)
	if err != nil {
		writeError(w, err)
		return
	}

	lookup := engine.Lookup{ID: req.ID, Handle: req.Handle, RootID: req.RootID, RootHandle: req.RootHandle}
	obj, err := a.engine.ReadOne(r.Context(), kindFrom(r.Context()), lookup, sel, viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (a *API) mutate(w http.ResponseWriter, r *http.Request) {
	var req mutateRequest
	if !a.decode(w, r, &req) {
		return
	}
	sel, err := projector.ParseSelection(req.Select)
	if err != nil {
		writeError(w, err)
		return
	}

	batch := registry.Batch{Creates: req.Creates, Updates: req.Updates, Deletes: req.Deletes}
	res, err := a.engine.Mutate(r.Context(), kindFrom(r.Context()), batch, sel, viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutateResponse{
		Created: res.Created,
		Updated: res.Updated,
		Deleted: res.Deleted,
	})
}

func (a *API) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !a.decode(w, r, &req) {
		return
	}
	sel, err := projector.ParseSelection(req.Select)
	if err != nil {
		writeError(w, err)
		return
	}

	in := engine.SearchInput{
		Filters:    req.Filters,
		Text:       req.Text,
		Sort:       req.Sort,
		After:      req.After,
		Take:       req.Take,
		Visibility: req.Visibility,
	}
	page, err := a.engine.Search(r.Context(), kindFrom(r.Context()), in, sel, viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Edges:       page.Edges,
		HasNextPage: page.HasNextPage,
		EndCursor:   page.EndCursor,
	})
}

func (a *API) capabilities(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !a.decode(w, r, &req) {
		return
	}
	sets, err := a.engine.ResolveCapabilities(r.Context(), kindFrom(r.Context()), req.IDs, viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]map[string]bool, len(sets))
	for i, set := range sets {
		out[i] = set.Map()
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) bookmarked(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !a.decode(w, r, &req) {
		return
	}
	out, err := a.engine.IsBookmarked(r.Context(), kindFrom(r.Context()), req.IDs, viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) react(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.React(r.Context(), kindFrom(r.Context()), chi.URLParam(r, "id"), req.Emoji, viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	summaries := make([]reactionSummary, 0, len(res.Summaries))
	for _, s := range res.Summaries {
		summaries = append(summaries, reactionSummary{Emoji: s.Emoji, Count: s.Count})
	}
	writeJSON(w, http.StatusOK, reactResponse{
		Emoji:     res.Emoji,
		Previous:  res.Previous,
		Delta:     res.Delta,
		Score:     res.Score,
		Summaries: summaries,
	})
}

func (a *API) bookmark(w http.ResponseWriter, r *http.Request) {
	var req bookmarkRequest
	if !a.decode(w, r, &req) {
		return
	}
	created, err := a.engine.Bookmark(r.Context(), kindFrom(r.Context()), chi.URLParam(r, "id"), req.List, viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"created": created})
}

func (a *API) unbookmark(w http.ResponseWriter, r *http.Request) {
	removed, err := a.engine.Unbookmark(r.Context(), kindFrom(r.Context()), chi.URLParam(r, "id"), viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (a *API) view(w http.ResponseWriter, r *http.Request) {
	counted, err := a.engine.View(r.Context(), kindFrom(r.Context()), chi.URLParam(r, "id"), viewerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"counted": counted})
}

// decode reads the json body into v and validates it. An empty body leaves v
// at its zero value.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, errs.Wrap(errs.ValidationError, err, "malformed request body"))
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		writeError(w, errs.Wrap(errs.ValidationError, err, "invalid request"))
		return false
	}
	return true
}

type errorBody struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap(errs.Internal, err, "request failed")
	}

	body := errorBody{Code: e.Code, Message: e.Error()}
	if e.Code == errs.Internal {
		logrus.Errorf("request failed: %v", err)
		body.Message = "internal error"
	}
	writeJSON(w, e.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("failed to write response: %v", err)
	}
}

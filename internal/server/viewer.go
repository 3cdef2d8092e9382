package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/emrgen/omnistore/internal/errs"
)

// ViewerHeader carries the id of the signed-in user. Requests are expected to
// pass through an authenticating gateway that sets it.
const ViewerHeader = "X-Viewer-Id"

// viewer resolves the acting viewer once per request.
func (a *API) viewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := viewerIDFromHeader(r, ViewerHeader)
		if err != nil {
			writeError(w, err)
			return
		}

		v, err := a.engine.ViewerFor(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), viewerKey, v)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// viewerIDFromHeader returns the trimmed header value; a missing header is
// the anonymous viewer.
func viewerIDFromHeader(r *http.Request, header string) (string, error) {
	values := r.Header.Values(header)
	if len(values) == 0 {
		return "", nil
	}
	if len(values) > 1 {
		return "", errs.New(errs.ValidationError, "header %s set more than once", header)
	}

	id := strings.TrimSpace(values[0])
	if strings.ContainsAny(id, " \t,") {
		return "", errs.New(errs.ValidationError, "malformed %s header", header)
	}
	return id, nil
}

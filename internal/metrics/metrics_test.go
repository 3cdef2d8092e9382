package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/v1/Note", "/v1/Note"},
		{"/v1/Note/search", "/v1/Note/search"},
		{"/v1/Note/0b5f/capabilities", "/v1/Note/0b5f"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalPath(tt.in), tt.in)
	}
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(views.WithLabelValues("Note", "true"))
	RecordView("Note", true)
	assert.Equal(t, before+1, testutil.ToFloat64(views.WithLabelValues("Note", "true")))

	before = testutil.ToFloat64(operations.WithLabelValues("Tag", "read", "OK"))
	RecordOperation("Tag", "read", "", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(operations.WithLabelValues("Tag", "read", "OK")))
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/Tag", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/Tag", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/Tag", "418")))
}

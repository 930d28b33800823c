package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
)

func TestRequestContext(t *testing.T) {
	var seen string
	h := chimiddleware.RequestID(RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(chimiddleware.RequestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.org"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed", http.MethodPost, "https://app.example.org", http.StatusTeapot, "https://app.example.org"},
		{"other origin", http.MethodPost, "https://evil.example", http.StatusTeapot, ""},
		{"preflight", http.MethodOptions, "https://app.example.org", http.StatusNoContent, "https://app.example.org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/v1/answer", nil)
			req.Header.Set("Origin", tt.origin)
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

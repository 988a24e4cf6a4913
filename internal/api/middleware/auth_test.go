package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func protected(t *testing.T, key string) (http.Handler, *bool) {
	t.Helper()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	return APIKey(key)(next), &called
}

func TestAPIKeySources(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *http.Request)
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }},
		{"x-api-key header", func(r *http.Request) { r.Header.Set("X-API-Key", "secret") }},
		{"query parameter", func(r *http.Request) { r.URL.RawQuery = "api_key=secret" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := protected(t, "secret")
			req := httptest.NewRequest(http.MethodGet, "/items/csv", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK || !*called {
				t.Errorf("status = %d, called = %v", rec.Code, *called)
			}
		})
	}
}

func TestAPIKeyRejectsWrongOrMissingKey(t *testing.T) {
	for _, presented := range []string{"", "wrong"} {
		handler, called := protected(t, "secret")
		req := httptest.NewRequest(http.MethodGet, "/items/csv", nil)
		if presented != "" {
			req.Header.Set("X-API-Key", presented)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || *called {
			t.Errorf("key %q: status = %d, called = %v", presented, rec.Code, *called)
		}
	}
}

func TestAPIKeyEmptyConfigurationLocksRoute(t *testing.T) {
	handler, called := protected(t, "")
	req := httptest.NewRequest(http.MethodGet, "/items/csv", nil)
	req.Header.Set("X-API-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || *called {
		t.Errorf("an unset key must not allow exports: status = %d", rec.Code)
	}
}

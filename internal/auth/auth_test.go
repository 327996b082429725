package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(ok)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"probe", "GET", "/healthz", "", http.StatusNoContent},
		{"metrics", "GET", "/metrics", "", http.StatusNoContent},
		{"read", "GET", "/api/v1/cameras", "", http.StatusNoContent},
		{"compute post", "POST", "/api/v1/calculate", "", http.StatusNoContent},
		{"add without token", "POST", "/api/v1/cameras", "", http.StatusUnauthorized},
		{"delete without token", "DELETE", "/api/v1/objects/M31", "", http.StatusUnauthorized},
		{"solve without token", "POST", "/api/v1/solve", "", http.StatusUnauthorized},
		{"wrong scheme", "PUT", "/api/v1/cameras/x", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "PUT", "/api/v1/cameras/x", "Bearer nope", http.StatusUnauthorized},
		{"good token", "PUT", "/api/v1/cameras/x", "Bearer s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	called := false
	h := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/api/v1/cameras/x", nil))
	if !called {
		t.Error("disabled auth should pass every request")
	}
}

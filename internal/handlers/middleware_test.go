package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Cardane/chatlove/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.RuntimeConfig{Token: "secret"}
	h := AuthMiddleware(cfg, okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/license", nil))
	if w.Code != 401 {
		t.Errorf("no token: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/license", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(w, r)
	if w.Code != 401 {
		t.Errorf("bad token: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/license", nil)
	r.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(w, r)
	if w.Code != 200 {
		t.Errorf("good token: status = %d", w.Code)
	}
}

func TestAuthMiddlewareDisabledWithoutToken(t *testing.T) {
	h := AuthMiddleware(&config.RuntimeConfig{}, okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/license", nil))
	if w.Code != 200 {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	h := RequestIDMiddleware(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("request id not generated")
	}

	w = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-Id", "caller-supplied")
	h.ServeHTTP(w, r)
	if w.Header().Get("X-Request-Id") != "caller-supplied" {
		t.Error("caller request id not propagated")
	}
}

func TestCorsMiddlewarePreflight(t *testing.T) {
	h := CorsMiddleware(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/dispatch", nil))
	if w.Code != 204 {
		t.Errorf("preflight status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

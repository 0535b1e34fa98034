package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: w, Code: 200}

	sw.WriteHeader(http.StatusNotFound)
	if sw.Code != http.StatusNotFound {
		t.Errorf("expected Code 404, got %d", sw.Code)
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("expected recorded code 404, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	sw2 := &StatusWriter{ResponseWriter: w2, Code: 200}
	_, _ = sw2.Write([]byte("ok"))
	if sw2.Code != 200 {
		t.Errorf("expected default code 200, got %d", sw2.Code)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}
	JSON(w, http.StatusCreated, data)

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}
	expectedBody := `{"foo":"bar"}` + "\n"
	if w.Body.String() != expectedBody {
		t.Errorf("expected body %q, got %q", expectedBody, w.Body.String())
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, 400, fmt.Errorf("bad request"))

	if w.Code != 400 {
		t.Errorf("expected 400, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "bad request" {
		t.Errorf("unexpected error message: %v", body["error"])
	}
	if body["code"] != "error" {
		t.Errorf("unexpected code: %v", body["code"])
	}
}

func TestErrorCodeCarriesKind(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorCode(w, 403, KindLicenseExpired, "trial expired", false, map[string]any{"expiresAt": "2026-01-01T00:00:00Z"})

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != KindLicenseExpired {
		t.Errorf("expected kind %q, got %v", KindLicenseExpired, body["code"])
	}
	if _, ok := body["retryable"]; ok {
		t.Error("retryable should be omitted when false")
	}
	details, ok := body["details"].(map[string]any)
	if !ok || details["expiresAt"] == "" {
		t.Errorf("details not carried: %v", body["details"])
	}
}

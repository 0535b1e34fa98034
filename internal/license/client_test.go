package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/validate-license" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if body["license_key"] != "KEY-1" {
			t.Errorf("license_key = %q", body["license_key"])
		}
		json.NewEncoder(w).Encode(Verdict{Success: true, Valid: true, Kind: "trial", ExpiresAt: "2026-08-31T12:00:00"})
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL).Validate(context.Background(), "KEY-1")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid || v.Kind != "trial" || v.ExpiresAt != "2026-08-31T12:00:00" {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestClientValidateExplicitRejection(t *testing.T) {
	// A 4xx with a verdict body is an answer, not a transport failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(Verdict{Success: true, Valid: false, Message: "revoked"})
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL).Validate(context.Background(), "KEY-1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Message != "revoked" {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestClientCreditsTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/credits/total/KEY-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "total_credits": 42.5})
	}))
	defer srv.Close()

	total, err := NewClient(srv.URL).CreditsTotal(context.Background(), "KEY-1")
	if err != nil {
		t.Fatal(err)
	}
	if total != 42.5 {
		t.Fatalf("total = %v", total)
	}
}

func TestClientCreditsRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).CreditsTotal(context.Background(), "KEY-1"); err == nil {
		t.Fatal("expected error for refused lookup")
	}
}

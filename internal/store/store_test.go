package store

import (
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	s := openTest(t)

	if v, err := s.Get(KeyLicense); err != nil || v != "" {
		t.Fatalf("missing key should be empty, got %q err=%v", v, err)
	}

	if err := s.Set(KeyLicense, "LK-1234"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.LicenseKey(); v != "LK-1234" {
		t.Errorf("got %q", v)
	}

	// Last write wins.
	if err := s.Set(KeyLicense, "LK-5678"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.LicenseKey(); v != "LK-5678" {
		t.Errorf("got %q", v)
	}
}

func TestStats(t *testing.T) {
	s := openTest(t)

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.RequestsCount != 0 || st.CreditsSaved != 0 {
		t.Errorf("fresh stats not zero: %+v", st)
	}

	for i := 0; i < 3; i++ {
		if err := s.RecordDispatch(1); err != nil {
			t.Fatal(err)
		}
	}
	st, _ = s.Stats()
	if st.RequestsCount != 3 {
		t.Errorf("expected 3 requests, got %d", st.RequestsCount)
	}
	if st.CreditsSaved != 3 {
		t.Errorf("expected 3 credits saved, got %v", st.CreditsSaved)
	}
}

func TestClearSession(t *testing.T) {
	s := openTest(t)

	_ = s.Set(KeyLicense, "LK-1")
	_ = s.Set(KeyUserName, "tester")
	_ = s.RecordDispatch(2)

	if err := s.ClearSession(); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.LicenseKey(); v != "" {
		t.Errorf("license not cleared: %q", v)
	}
	if v, _ := s.Get(KeyUserName); v != "" {
		t.Errorf("user name not cleared: %q", v)
	}
	st, _ := s.Stats()
	if st.RequestsCount != 1 {
		t.Errorf("stats should survive logout, got %+v", st)
	}
}

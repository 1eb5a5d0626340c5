package geoip

import "testing"

func TestService_DisabledWithoutDatabase(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("empty path must not error: %v", err)
	}
	defer s.Close()

	if got := s.Lookup("203.0.113.7"); got != "" {
		t.Fatalf("disabled lookup = %q, want empty", got)
	}
	if got := s.Lookup("not-an-ip"); got != "" {
		t.Fatalf("hostname lookup = %q, want empty", got)
	}
}

func TestService_MissingFileErrors(t *testing.T) {
	if _, err := Open("/nonexistent/geoip.mmdb"); err == nil {
		t.Fatal("expected error for missing database file")
	}
}

func TestService_CloseIdempotent(t *testing.T) {
	s, _ := Open("")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

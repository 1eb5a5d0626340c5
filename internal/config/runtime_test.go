package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRuntimeConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadRuntimeConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.RequestsPerWindow != 200 {
		t.Fatalf("expected default window capacity 200, got %d", cfg.RequestsPerWindow)
	}
	if cfg.LoginTimeout != 45*time.Second {
		t.Fatalf("expected default login timeout 45s, got %v", cfg.LoginTimeout)
	}
}

func TestLoadRuntimeConfig_PartialOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roost.yaml")
	body := "requests_per_window: 50\ncooldown_duration: 5m\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestsPerWindow != 50 {
		t.Fatalf("override lost: got %d", cfg.RequestsPerWindow)
	}
	if cfg.CooldownDuration != 5*time.Minute {
		t.Fatalf("override lost: got %v", cfg.CooldownDuration)
	}
	// Untouched fields keep defaults.
	if cfg.BreakerFailureThreshold != 15 {
		t.Fatalf("default clobbered: got %d", cfg.BreakerFailureThreshold)
	}
}

func TestLoadRuntimeConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roost.yaml")
	if err := os.WriteFile(path, []byte(":\t not yaml ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRuntimeConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestIsWeakPassword(t *testing.T) {
	if !IsWeakPassword("password1") {
		t.Fatal("dictionary password should be weak")
	}
	if IsWeakPassword("") {
		t.Fatal("empty password is cookie-only, not weak")
	}
	if IsWeakPassword("x9$Lq2!vTzR8wB#mK4") {
		t.Fatal("high-entropy password should not be weak")
	}
}

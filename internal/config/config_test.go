package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "bogus")
	t.Setenv("SHIFT_SUMMARY_TTL_SECONDS", "-5")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("default port = %q, want 8080", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q, want :8080", cfg.Address())
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token TTL fell through to %d, want default 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ShiftSummaryTTLSeconds != 30 {
		t.Fatalf("summary TTL fell through to %d, want default 30", cfg.ShiftSummaryTTLSeconds)
	}

	t.Setenv("PORT", "9090")
	t.Setenv("SHIFT_SUMMARY_TTL_SECONDS", "60")
	cfg = Load()
	if cfg.Port != "9090" || cfg.ShiftSummaryTTLSeconds != 60 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

package config

import (
	"os"
	"testing"
)

func TestSidecarDefaults(t *testing.T) {
	cfg := sidecarDefaults()
	if cfg.Port != 8910 {
		t.Errorf("Port = %d, want 8910", cfg.Port)
	}
	if cfg.TokenPrefix != "ANON" {
		t.Errorf("TokenPrefix = %q, want ANON", cfg.TokenPrefix)
	}
	if cfg.DetectionThresholds.DateMoneyAutoIgnore != 0.85 {
		t.Errorf("DateMoneyAutoIgnore = %v, want 0.85", cfg.DetectionThresholds.DateMoneyAutoIgnore)
	}
}

func TestLoadSidecar_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("PS_SIDECAR_PORT", "9999")
	t.Setenv("PS_TOKEN_PREFIX", "CUSTOM")
	t.Setenv("PS_DATE_MONEY_AUTO_IGNORE_THRESHOLD", "0.5")

	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	cfg := LoadSidecar()
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.TokenPrefix != "CUSTOM" {
		t.Errorf("TokenPrefix = %q, want CUSTOM", cfg.TokenPrefix)
	}
	if cfg.DetectionThresholds.DateMoneyAutoIgnore != 0.5 {
		t.Errorf("DateMoneyAutoIgnore = %v, want 0.5", cfg.DetectionThresholds.DateMoneyAutoIgnore)
	}
}

func TestLicenseDefaults(t *testing.T) {
	cfg := licenseDefaults()
	if cfg.JWTAlgorithm != "HS256" {
		t.Errorf("JWTAlgorithm = %q, want HS256", cfg.JWTAlgorithm)
	}
	if cfg.MaxSeatsPerSubscription != 5 {
		t.Errorf("MaxSeatsPerSubscription = %d, want 5", cfg.MaxSeatsPerSubscription)
	}
	if cfg.TrialDays != 14 {
		t.Errorf("TrialDays = %d, want 14", cfg.TrialDays)
	}
}

func TestLoadLicense_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("PS_JWT_SECRET", "super-secret")
	t.Setenv("PS_MAX_SEATS_PER_SUBSCRIPTION", "10")
	t.Setenv("PS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	cfg := LoadLicense()
	if cfg.JWTSecret != "super-secret" {
		t.Errorf("JWTSecret = %q, want super-secret", cfg.JWTSecret)
	}
	if cfg.MaxSeatsPerSubscription != 10 {
		t.Errorf("MaxSeatsPerSubscription = %d, want 10", cfg.MaxSeatsPerSubscription)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" {
		t.Errorf("AllowedOrigins = %v, want two parsed origins", cfg.AllowedOrigins)
	}
}

func TestDefaultDataDir_NonEmpty(t *testing.T) {
	if defaultDataDir() == "" {
		t.Error("expected non-empty default data dir")
	}
}

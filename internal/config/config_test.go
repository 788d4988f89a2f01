package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" || cfg.IsProduction() {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.RateLimitCap != 8 || cfg.RateLimitWindow != time.Hour || cfg.RateLimitRole != "AGENT" {
		t.Fatalf("unexpected rate limit defaults: %d %s %s", cfg.RateLimitCap, cfg.RateLimitWindow, cfg.RateLimitRole)
	}
	if cfg.RateLimitNoticeAt != 3 {
		t.Fatalf("expected notice threshold 3, got %d", cfg.RateLimitNoticeAt)
	}
	if cfg.ThreadWindow != 24*time.Hour {
		t.Fatalf("expected 24h thread window, got %s", cfg.ThreadWindow)
	}
	if cfg.RetellBaseURL != "https://api.retellai.com" {
		t.Fatalf("unexpected retell base url %s", cfg.RetellBaseURL)
	}
	if cfg.EndKeyword != "END" {
		t.Fatalf("unexpected end keyword %s", cfg.EndKeyword)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"PORT":                  "9090",
		"ENV":                   "production",
		"SMS_PROVIDER":          " Twilio ",
		"SMS_RATE_LIMIT_CAP":    "5",
		"SMS_RATE_LIMIT_ROLE":   "user",
		"SMS_RATE_LIMIT_WINDOW": "30m",
		"CORS_ALLOWED_ORIGINS":  "https://a.example,https://b.example",
		"SUMMARY_PROVIDER":      "BEDROCK",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || !cfg.IsProduction() {
		t.Fatalf("expected overrides, got port=%s env=%s", cfg.Port, cfg.Env)
	}
	if cfg.SMSProvider != "twilio" || cfg.SummaryProvider != "bedrock" {
		t.Fatalf("expected normalized providers, got %q %q", cfg.SMSProvider, cfg.SummaryProvider)
	}
	if cfg.RateLimitCap != 5 || cfg.RateLimitRole != "USER" || cfg.RateLimitWindow != 30*time.Minute {
		t.Fatalf("unexpected rate limit overrides: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := LoadFrom(map[string]string{
		"SMS_RATE_LIMIT_CAP":  "0",
		"SMS_RATE_LIMIT_ROLE": "SYSTEM",
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "SMS_RATE_LIMIT_CAP") || !strings.Contains(err.Error(), "SMS_RATE_LIMIT_ROLE") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"SMS_THREAD_WINDOW": "soon"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

package cookieauth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/cookieauth/store/memstore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.JWT.AccessTTL != 60*time.Second || cfg.Refresh.TTL != 7*24*time.Hour {
		t.Fatalf("unexpected lifetimes %s / %s", cfg.JWT.AccessTTL, cfg.Refresh.TTL)
	}
	if cfg.Refresh.TokenBytes != 20 || !cfg.Refresh.HashSecrets {
		t.Fatalf("unexpected refresh defaults %+v", cfg.Refresh)
	}
	if cfg.Cookie.AccessName != "JWT_ACCESS_TOKEN" || cfg.Cookie.RefreshName != "JWT_REFRESH_TOKEN" {
		t.Fatalf("unexpected cookie names %+v", cfg.Cookie)
	}
	if cfg.Cookie.Secure || !cfg.Cookie.HTTPOnly || cfg.Cookie.SameSite != "lax" {
		t.Fatalf("unexpected cookie flags %+v", cfg.Cookie)
	}
	// Without a secret the defaults alone are not usable.
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "baseline", mutate: func(*Config) {}, wantValid: true},
		{name: "jwt leeway valid", mutate: func(c *Config) { c.JWT.Leeway = 45 * time.Second }, wantValid: true},
		{name: "jwt leeway too large", mutate: func(c *Config) { c.JWT.Leeway = 3 * time.Minute }},
		{name: "jwt leeway negative", mutate: func(c *Config) { c.JWT.Leeway = -time.Second }},
		{name: "jwt audience blank", mutate: func(c *Config) { c.JWT.Audience = "   " }},
		{name: "jwt algorithm lower case", mutate: func(c *Config) { c.JWT.Algorithm = "hs512" }, wantValid: true},
		{name: "jwt algorithm unsupported", mutate: func(c *Config) { c.JWT.Algorithm = "none" }},
		{name: "jwt rs256 without key", mutate: func(c *Config) { c.JWT.Algorithm = "RS256" }},
		{name: "jwt hs256 without secret", mutate: func(c *Config) { c.JWT.SecretKey = "" }},
		{name: "jwt access ttl zero", mutate: func(c *Config) { c.JWT.AccessTTL = 0 }},
		{name: "jwt empty kid", mutate: func(c *Config) { c.JWT.VerifyKeys = map[string]string{" ": "old"} }},
		{name: "refresh ttl zero", mutate: func(c *Config) { c.Refresh.TTL = 0 }},
		{name: "refresh shorter than access", mutate: func(c *Config) { c.Refresh.TTL = 30 * time.Second }},
		{name: "refresh token bytes too small", mutate: func(c *Config) { c.Refresh.TokenBytes = 8 }},
		{name: "refresh token bytes max", mutate: func(c *Config) { c.Refresh.TokenBytes = 128 }, wantValid: true},
		{name: "same cookie names", mutate: func(c *Config) { c.Cookie.RefreshName = c.Cookie.AccessName }},
		{name: "cookie name with space", mutate: func(c *Config) { c.Cookie.AccessName = "bad name" }},
		{name: "cookie name empty", mutate: func(c *Config) { c.Cookie.RefreshName = "" }},
		{name: "cookie path relative", mutate: func(c *Config) { c.Cookie.Path = "app" }},
		{name: "same site none insecure", mutate: func(c *Config) { c.Cookie.SameSite = "None" }},
		{name: "same site none secure", mutate: func(c *Config) { c.Cookie.SameSite = "None"; c.Cookie.Secure = true }, wantValid: true},
		{name: "same site unknown", mutate: func(c *Config) { c.Cookie.SameSite = "sometimes" }},
		{name: "audit negative buffer", mutate: func(c *Config) { c.Audit.BufferSize = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected invalid config, got nil")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestCloneConfigIsolatesVerifyKeys(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.VerifyKeys = map[string]string{"old": "secret"}
	clone := cloneConfig(cfg)
	clone.JWT.VerifyKeys["old"] = "changed"
	if cfg.JWT.VerifyKeys["old"] != "secret" {
		t.Fatal("clone shares the VerifyKeys map")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	yaml := `
jwt:
  secret_key: from-file-from-file-from-file-32
  issuer: file-issuer
  access_ttl: 2m
refresh:
  ttl: 24h
cookie:
  domain: example.com
  same_site: strict
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("COOKIEAUTH_JWT_ISSUER", "env-issuer")
	t.Setenv("COOKIEAUTH_COOKIE_SECURE", "true")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.Issuer != "env-issuer" {
		t.Fatalf("env must override file, got %q", cfg.JWT.Issuer)
	}
	if cfg.JWT.AccessTTL != 2*time.Minute || cfg.Refresh.TTL != 24*time.Hour {
		t.Fatalf("unexpected lifetimes %s / %s", cfg.JWT.AccessTTL, cfg.Refresh.TTL)
	}
	if cfg.Cookie.Domain != "example.com" || cfg.Cookie.SameSite != "strict" || !cfg.Cookie.Secure {
		t.Fatalf("unexpected cookie config %+v", cfg.Cookie)
	}
	// Untouched defaults survive.
	if !cfg.Cookie.HTTPOnly || !cfg.Refresh.HashSecrets || cfg.Cookie.AccessName != "JWT_ACCESS_TOKEN" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigEnvOnly(t *testing.T) {
	t.Setenv("COOKIEAUTH_JWT_SECRET_KEY", "env-secret-env-secret-env-secret")
	t.Setenv("COOKIEAUTH_REFRESH_TOKEN_BYTES", "32")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Refresh.TokenBytes != 32 || cfg.JWT.SecretKey != "env-secret-env-secret-env-secret" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadConfigValidates(t *testing.T) {
	t.Setenv("COOKIEAUTH_JWT_SECRET_KEY", "env-secret-env-secret-env-secret")
	t.Setenv("COOKIEAUTH_COOKIE_SAME_SITE", "none")

	if _, err := LoadConfig(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithStore(memstore.New())
	m, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer m.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestBuilderRequiresStoreAndValidConfig(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected missing store to fail")
	}
	if _, err := New().WithStore(memstore.New()).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without a secret, got %v", err)
	}

	cfg := testConfig()
	cfg.JWT.Algorithm = "EdDSA"
	cfg.JWT.PrivateKey = "not a key"
	if _, err := New().WithConfig(cfg).WithStore(memstore.New()).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad key material, got %v", err)
	}
}

func TestBuilderCopiesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.VerifyKeys = map[string]string{"old": "old-secret-old-secret-old-secret"}
	b := New().WithConfig(cfg).WithStore(memstore.New())
	cfg.JWT.VerifyKeys["old"] = "mutated"

	m, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer m.Close()
	if got := m.Config().JWT.VerifyKeys["old"]; got != "old-secret-old-secret-old-secret" {
		t.Fatalf("builder kept a reference to the caller's map: %q", got)
	}
}

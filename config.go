package cookieauth

import (
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/cookieauth/jwt"
	"github.com/MrEthical07/cookieauth/refresh"
)

// Config is the complete manager configuration. Start from DefaultConfig and
// override what differs; Build validates it once.
type Config struct {
	JWT     JWTConfig     `yaml:"jwt"`
	Refresh RefreshConfig `yaml:"refresh"`
	Cookie  CookieConfig  `yaml:"cookie"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// JWTConfig configures access token signing.
type JWTConfig struct {
	// Algorithm is one of HS256/384/512, RS256/384/512, ES256/384, EdDSA.
	Algorithm string `yaml:"algorithm" env:"COOKIEAUTH_JWT_ALGORITHM"`
	// SecretKey is the HMAC secret for HS* algorithms.
	SecretKey string `yaml:"secret_key" env:"COOKIEAUTH_JWT_SECRET_KEY"`
	// PrivateKey and PublicKey are PEM blocks for asymmetric algorithms.
	PrivateKey string `yaml:"private_key" env:"COOKIEAUTH_JWT_PRIVATE_KEY"`
	PublicKey  string `yaml:"public_key" env:"COOKIEAUTH_JWT_PUBLIC_KEY"`
	KeyID      string `yaml:"key_id" env:"COOKIEAUTH_JWT_KEY_ID"`
	// VerifyKeys holds retired verification keys by kid.
	VerifyKeys map[string]string `yaml:"verify_keys"`
	AccessTTL  time.Duration     `yaml:"access_ttl" env:"COOKIEAUTH_JWT_ACCESS_TTL"`
	Leeway     time.Duration     `yaml:"leeway" env:"COOKIEAUTH_JWT_LEEWAY"`
	Issuer     string            `yaml:"issuer" env:"COOKIEAUTH_JWT_ISSUER"`
	Audience   string            `yaml:"audience" env:"COOKIEAUTH_JWT_AUDIENCE"`
}

// RefreshConfig configures refresh records.
type RefreshConfig struct {
	TokenBytes int           `yaml:"token_bytes" env:"COOKIEAUTH_REFRESH_TOKEN_BYTES"`
	TTL        time.Duration `yaml:"ttl" env:"COOKIEAUTH_REFRESH_TTL"`
	// HashSecrets stores a SHA-256 digest of the secret instead of the secret.
	HashSecrets bool `yaml:"hash_secrets" env:"COOKIEAUTH_REFRESH_HASH_SECRETS"`
}

// CookieConfig configures both auth cookies.
type CookieConfig struct {
	AccessName  string `yaml:"access_name" env:"COOKIEAUTH_COOKIE_ACCESS_NAME"`
	RefreshName string `yaml:"refresh_name" env:"COOKIEAUTH_COOKIE_REFRESH_NAME"`
	Domain      string `yaml:"domain" env:"COOKIEAUTH_COOKIE_DOMAIN"`
	Path        string `yaml:"path" env:"COOKIEAUTH_COOKIE_PATH"`
	// SameSite is lax, strict, none or default.
	SameSite string `yaml:"same_site" env:"COOKIEAUTH_COOKIE_SAME_SITE"`
	Secure   bool   `yaml:"secure" env:"COOKIEAUTH_COOKIE_SECURE"`
	HTTPOnly bool   `yaml:"http_only" env:"COOKIEAUTH_COOKIE_HTTP_ONLY"`
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"COOKIEAUTH_AUDIT_ENABLED"`
	BufferSize int  `yaml:"buffer_size" env:"COOKIEAUTH_AUDIT_BUFFER_SIZE"`
	DropIfFull bool `yaml:"drop_if_full" env:"COOKIEAUTH_AUDIT_DROP_IF_FULL"`
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" env:"COOKIEAUTH_METRICS_ENABLED"`
	EnableLatencyHistograms bool `yaml:"latency_histograms" env:"COOKIEAUTH_METRICS_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns a configuration with every default applied. The
// signing secret is left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Algorithm: string(jwt.HS256),
			AccessTTL: 60 * time.Second,
		},
		Refresh: RefreshConfig{
			TokenBytes:  refresh.DefaultTokenBytes,
			TTL:         refresh.DefaultTTL,
			HashSecrets: true,
		},
		Cookie: CookieConfig{
			AccessName:  "JWT_ACCESS_TOKEN",
			RefreshName: "JWT_REFRESH_TOKEN",
			Path:        "/",
			SameSite:    "lax",
			Secure:      false,
			HTTPOnly:    true,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.VerifyKeys = maps.Clone(cfg.JWT.VerifyKeys)
	return out
}

// Validate reports the first problem found. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	alg, err := jwt.ParseAlgorithm(c.JWT.Algorithm)
	if err != nil {
		return invalid("%v", err)
	}
	if c.JWT.AccessTTL <= 0 {
		return invalid("JWT AccessTTL must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return invalid("JWT Leeway must be within [0, 2m]")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return invalid("JWT Audience must not be blank")
	}
	if alg.Symmetric() {
		if c.JWT.SecretKey == "" {
			return invalid("%s requires JWT SecretKey", alg)
		}
	} else if c.JWT.PrivateKey == "" {
		return invalid("%s requires JWT PrivateKey", alg)
	}
	for kid := range c.JWT.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return invalid("JWT VerifyKeys contains an empty kid")
		}
	}

	if c.Refresh.TokenBytes < refresh.MinSecretBytes || c.Refresh.TokenBytes > refresh.MaxSecretBytes {
		return invalid("Refresh TokenBytes must be within [%d, %d]", refresh.MinSecretBytes, refresh.MaxSecretBytes)
	}
	if c.Refresh.TTL <= 0 {
		return invalid("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL < c.JWT.AccessTTL {
		return invalid("Refresh TTL must be >= JWT AccessTTL")
	}

	if err := validCookieName(c.Cookie.AccessName); err != nil {
		return invalid("Cookie AccessName: %v", err)
	}
	if err := validCookieName(c.Cookie.RefreshName); err != nil {
		return invalid("Cookie RefreshName: %v", err)
	}
	if c.Cookie.AccessName == c.Cookie.RefreshName {
		return invalid("Cookie AccessName and RefreshName must differ")
	}
	if c.Cookie.Path != "" && !strings.HasPrefix(c.Cookie.Path, "/") {
		return invalid("Cookie Path must start with /")
	}
	sameSite, err := parseSameSite(c.Cookie.SameSite)
	if err != nil {
		return invalid("Cookie SameSite: %v", err)
	}
	if sameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return invalid("Cookie SameSite=None requires Secure")
	}

	if c.Audit.BufferSize < 0 {
		return invalid("Audit BufferSize must be >= 0")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

func validCookieName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	for _, r := range name {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?={}`, r) {
			return fmt.Errorf("invalid character %q in %q", r, name)
		}
	}
	return nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	case "default":
		return http.SameSiteDefaultMode, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", v)
	}
}

func (c *Config) codecConfig(now func() time.Time) jwt.Config {
	alg, _ := jwt.ParseAlgorithm(c.JWT.Algorithm)
	cfg := jwt.Config{
		Algorithm: alg,
		AccessTTL: c.JWT.AccessTTL,
		Issuer:    c.JWT.Issuer,
		Audience:  c.JWT.Audience,
		Leeway:    c.JWT.Leeway,
		KeyID:     c.JWT.KeyID,
		Now:       now,
	}
	if alg.Symmetric() {
		cfg.SecretKey = []byte(c.JWT.SecretKey)
	} else {
		cfg.PrivateKey = []byte(c.JWT.PrivateKey)
		if c.JWT.PublicKey != "" {
			cfg.PublicKey = []byte(c.JWT.PublicKey)
		}
	}
	if len(c.JWT.VerifyKeys) > 0 {
		cfg.VerifyKeys = make(map[string][]byte, len(c.JWT.VerifyKeys))
		for kid, key := range c.JWT.VerifyKeys {
			cfg.VerifyKeys[kid] = []byte(key)
		}
	}
	return cfg
}

func (c *Config) refreshConfig(now func() time.Time) refresh.Config {
	return refresh.Config{
		TokenBytes: c.Refresh.TokenBytes,
		TTL:        c.Refresh.TTL,
		RawSecrets: !c.Refresh.HashSecrets,
		Now:        now,
	}
}

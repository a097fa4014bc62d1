package jwt

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when the token is not a structurally valid JWT.
	ErrMalformedToken = errors.New("malformed access token")
	// ErrInvalidSignature is returned when the signature, algorithm or key id does not check out.
	ErrInvalidSignature = errors.New("invalid access token signature")
	// ErrExpired is returned when the token is past exp plus leeway.
	ErrExpired = errors.New("access token expired")
	// ErrInvalidClaims is returned for issuer/audience mismatch, future iat or a missing subject.
	ErrInvalidClaims = errors.New("invalid access token claims")
	// ErrSigningKeyMissing is returned by Issue on a verify-only codec.
	ErrSigningKeyMissing = errors.New("codec has no signing key")
)

// Algorithm names a JWS signing algorithm.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	EdDSA Algorithm = "EdDSA"
)

// ParseAlgorithm normalizes a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "HS256":
		return HS256, nil
	case "HS384":
		return HS384, nil
	case "HS512":
		return HS512, nil
	case "RS256":
		return RS256, nil
	case "RS384":
		return RS384, nil
	case "RS512":
		return RS512, nil
	case "ES256":
		return ES256, nil
	case "ES384":
		return ES384, nil
	case "EDDSA", "ED25519":
		return EdDSA, nil
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", name)
	}
}

// Symmetric reports whether the algorithm uses a shared HMAC secret.
func (a Algorithm) Symmetric() bool {
	return a == HS256 || a == HS384 || a == HS512
}

func (a Algorithm) method() jwt.SigningMethod {
	switch a {
	case HS384:
		return jwt.SigningMethodHS384
	case HS512:
		return jwt.SigningMethodHS512
	case RS256:
		return jwt.SigningMethodRS256
	case RS384:
		return jwt.SigningMethodRS384
	case RS512:
		return jwt.SigningMethodRS512
	case ES256:
		return jwt.SigningMethodES256
	case ES384:
		return jwt.SigningMethodES384
	case EdDSA:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

// Config configures a Codec.
//
// For HMAC algorithms SecretKey is both the signing and the verification key.
// For asymmetric algorithms PrivateKey and PublicKey hold PEM blocks; EdDSA
// additionally accepts raw ed25519 key bytes. A codec without PrivateKey is
// verify-only.
type Config struct {
	Algorithm  Algorithm
	SecretKey  []byte
	PrivateKey []byte
	PublicKey  []byte
	AccessTTL  time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration
	// KeyID is written to the kid header of issued tokens.
	KeyID string
	// VerifyKeys holds retired keys by kid, accepted on Verify only.
	VerifyKeys map[string][]byte
	Now        func() time.Time
}

// Claims is the access token payload.
type Claims struct {
	// OrigIssuedAt is the issued-at of the refresh record the token was minted from.
	OrigIssuedAt *jwt.NumericDate `json:"orig_iat,omitempty"`
	Extensions   map[string]any   `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access tokens. It is immutable after NewCodec and
// safe for concurrent use.
type Codec struct {
	cfg        Config
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	verifyKeys map[string]any
}

// NewCodec validates the key material once and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = HS256
	}
	if _, err := ParseAlgorithm(string(cfg.Algorithm)); err != nil {
		return nil, err
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access TTL must be positive")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("leeway must not be negative")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	c := &Codec{cfg: cfg, method: cfg.Algorithm.method()}
	var err error
	if cfg.Algorithm.Symmetric() {
		if len(cfg.SecretKey) == 0 {
			return nil, fmt.Errorf("%s requires a secret key", cfg.Algorithm)
		}
		c.signKey, c.verifyKey = cfg.SecretKey, cfg.SecretKey
	} else {
		if len(cfg.PrivateKey) > 0 {
			if c.signKey, err = parsePrivateKey(cfg.Algorithm, cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		switch {
		case len(cfg.PublicKey) > 0:
			if c.verifyKey, err = parsePublicKey(cfg.Algorithm, cfg.PublicKey); err != nil {
				return nil, err
			}
		case c.signKey != nil:
			c.verifyKey = c.signKey.(crypto.Signer).Public()
		case len(cfg.VerifyKeys) == 0:
			return nil, fmt.Errorf("%s requires a public key or verify keys", cfg.Algorithm)
		}
	}

	if len(cfg.VerifyKeys) > 0 {
		c.verifyKeys = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if cfg.Algorithm.Symmetric() {
				c.verifyKeys[kid] = raw
				continue
			}
			key, err := parsePublicKey(cfg.Algorithm, raw)
			if err != nil {
				return nil, fmt.Errorf("verify key for kid %q: %w", kid, err)
			}
			c.verifyKeys[kid] = key
		}
	}
	return c, nil
}

// Algorithm returns the configured signing algorithm.
func (c *Codec) Algorithm() Algorithm { return c.cfg.Algorithm }

// AccessTTL returns the lifetime given to issued tokens.
func (c *Codec) AccessTTL() time.Duration { return c.cfg.AccessTTL }

// Issue stamps iat, exp and iss onto claims and signs them. The stamped copy
// is returned alongside the compact token.
func (c *Codec) Issue(claims Claims) (string, Claims, error) {
	if c.signKey == nil {
		return "", Claims{}, ErrSigningKeyMissing
	}
	if claims.Subject == "" {
		return "", Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}

	now := c.cfg.Now()
	issued := claims
	issued.Extensions = maps.Clone(claims.Extensions)
	issued.IssuedAt = jwt.NewNumericDate(now)
	issued.ExpiresAt = jwt.NewNumericDate(now.Add(c.cfg.AccessTTL))
	if c.cfg.Issuer != "" {
		issued.Issuer = c.cfg.Issuer
	}
	if c.cfg.Audience != "" {
		issued.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}

	token := jwt.NewWithClaims(c.method, issued)
	if c.cfg.KeyID != "" {
		token.Header["kid"] = c.cfg.KeyID
	}
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, issued, nil
}

// Verify checks signature, algorithm, expiry, issued-at and issuer and
// returns the decoded claims. Failures wrap exactly one of ErrMalformedToken,
// ErrInvalidSignature, ErrExpired or ErrInvalidClaims.
//
// A token is accepted while now is in [iat-leeway, exp+leeway). The instant
// exp+leeway itself is already expired.
func (c *Codec) Verify(token string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.cfg.Now),
	}
	if c.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.cfg.Leeway))
	}
	if c.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.cfg.Issuer))
	}
	if c.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(c.cfg.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, c.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		if c.cfg.KeyID != "" {
			return nil, errors.New("missing kid")
		}
		if c.verifyKey == nil {
			return nil, errors.New("no default verification key")
		}
		return c.verifyKey, nil
	}
	if key, ok := c.verifyKeys[kid]; ok {
		return key, nil
	}
	if kid == c.cfg.KeyID && c.verifyKey != nil {
		return c.verifyKey, nil
	}
	return nil, errors.New("unknown kid")
}

// classify maps a parser error onto the codec's error kinds. Signature
// problems win over claim problems because the parser checks them first.
func classify(err error) error {
	var kind error
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		kind = ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		kind = ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		kind = ErrExpired
	default:
		kind = ErrInvalidClaims
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func parsePrivateKey(alg Algorithm, key []byte) (crypto.Signer, error) {
	switch alg {
	case RS256, RS384, RS512:
		k, err := jwt.ParseRSAPrivateKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa private key: %w", err)
		}
		return k, nil
	case ES256, ES384:
		k, err := jwt.ParseECPrivateKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("invalid ecdsa private key: %w", err)
		}
		return k, nil
	case EdDSA:
		return parseEdPrivateKey(key)
	default:
		return nil, fmt.Errorf("algorithm %s has no private key", alg)
	}
}

func parsePublicKey(alg Algorithm, key []byte) (any, error) {
	switch alg {
	case RS256, RS384, RS512:
		k, err := jwt.ParseRSAPublicKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa public key: %w", err)
		}
		return k, nil
	case ES256, ES384:
		k, err := jwt.ParseECPublicKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("invalid ecdsa public key: %w", err)
		}
		return k, nil
	case EdDSA:
		return parseEdPublicKey(key)
	default:
		return nil, fmt.Errorf("algorithm %s has no public key", alg)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

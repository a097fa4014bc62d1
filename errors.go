package cookieauth

import (
	"errors"

	"github.com/MrEthical07/cookieauth/jwt"
	"github.com/MrEthical07/cookieauth/refresh"
)

// Access token failures. Authenticate swallows these into an anonymous
// context; they surface only from direct Codec use.
var (
	ErrMalformedToken   = jwt.ErrMalformedToken
	ErrInvalidSignature = jwt.ErrInvalidSignature
	ErrTokenExpired     = jwt.ErrExpired
	ErrInvalidClaims    = jwt.ErrInvalidClaims
)

// Refresh record failures. Only ErrStorageFault ever leaves Authenticate.
var (
	ErrRecordNotFound = refresh.ErrNotFound
	ErrRecordRevoked  = refresh.ErrRevoked
	ErrRecordExpired  = refresh.ErrExpired
	ErrStorageFault   = refresh.ErrStorageFault
)

var (
	// ErrUnauthorized is returned by guards when the request carries no
	// authenticated principal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserNotFound is wrapped by ErrUnauthorized when the user store has no
	// record for an authenticated id.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoAuthContext is returned when an operation runs without an Auth
	// attached to its context.
	ErrNoAuthContext = errors.New("no auth context")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid cookieauth config")
	// ErrBuilderUsed is returned by a second Build call.
	ErrBuilderUsed = errors.New("builder already used")
)

package cookieauth

import (
	"net/http"

	"github.com/MrEthical07/cookieauth/jwt"
)

// Auth is the per-request authentication state produced by
// Manager.Authenticate. It is owned by a single request and is not safe for
// concurrent use.
type Auth struct {
	// UserID is empty for anonymous requests.
	UserID string
	// RefreshToken is the refresh token bound to this request: the inbound
	// cookie value, or the token issued by a login during this request.
	RefreshToken string
	// Claims holds the verified or freshly minted access token claims.
	Claims *jwt.Claims

	Request   *http.Request
	ClientIP  string
	UserAgent string

	manager        *Manager
	principal      any
	inboundAccess  bool
	inboundRefresh string
	cookies        []CookieInstruction
	applied        bool
}

// Authenticated reports whether a principal id is set.
func (a *Auth) Authenticated() bool {
	return a != nil && a.UserID != ""
}

// PendingCookies returns a copy of the queued cookie instructions.
func (a *Auth) PendingCookies() []CookieInstruction {
	if a == nil {
		return nil
	}
	return append([]CookieInstruction(nil), a.cookies...)
}

// ApplyCookies writes the queued cookies to h. Only the first call writes;
// it reports whether anything was written.
func (a *Auth) ApplyCookies(h http.Header) bool {
	if a == nil || a.applied || a.manager == nil {
		return false
	}
	a.applied = true
	if len(a.cookies) == 0 {
		return false
	}
	a.manager.transport.Apply(h, a.cookies)
	return true
}

// queue replaces any earlier instruction for the same cookie.
func (a *Auth) queue(in CookieInstruction) {
	for i := range a.cookies {
		if a.cookies[i].Name == in.Name {
			a.cookies[i] = in
			return
		}
	}
	a.cookies = append(a.cookies, in)
}

func (a *Auth) reset() {
	a.UserID = ""
	a.RefreshToken = ""
	a.Claims = nil
	a.principal = nil
}

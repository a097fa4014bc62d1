package cookieauth

import (
	"net/http"
	"time"
)

// CookieInstruction is one queued Set-Cookie directive. Everything except the
// name, value and lifetime comes from CookieConfig.
type CookieInstruction struct {
	Name   string
	Value  string
	MaxAge time.Duration
	// Clear expires the cookie on the client; Value and MaxAge are ignored.
	Clear bool
}

// CookieTransport renders instructions as Set-Cookie header lines.
type CookieTransport struct {
	domain   string
	path     string
	sameSite http.SameSite
	secure   bool
	httpOnly bool
	now      func() time.Time
}

// NewCookieTransport builds a transport from a validated CookieConfig.
func NewCookieTransport(cfg CookieConfig, now func() time.Time) (*CookieTransport, error) {
	sameSite, err := parseSameSite(cfg.SameSite)
	if err != nil {
		return nil, invalid("Cookie SameSite: %v", err)
	}
	if now == nil {
		now = time.Now
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	return &CookieTransport{
		domain:   cfg.Domain,
		path:     path,
		sameSite: sameSite,
		secure:   cfg.Secure,
		httpOnly: cfg.HTTPOnly,
		now:      now,
	}, nil
}

// Cookie converts one instruction into an *http.Cookie.
func (t *CookieTransport) Cookie(in CookieInstruction) *http.Cookie {
	c := &http.Cookie{
		Name:     in.Name,
		Domain:   t.domain,
		Path:     t.path,
		SameSite: t.sameSite,
		Secure:   t.secure,
		HttpOnly: t.httpOnly,
	}
	if in.Clear {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0).UTC()
		return c
	}
	c.Value = in.Value
	seconds := int(in.MaxAge / time.Second)
	if seconds > 0 {
		c.MaxAge = seconds
		c.Expires = t.now().Add(time.Duration(seconds) * time.Second).UTC()
	}
	return c
}

// Apply appends one Set-Cookie line per instruction, in order.
func (t *CookieTransport) Apply(h http.Header, instructions []CookieInstruction) {
	for _, in := range instructions {
		if v := t.Cookie(in).String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
}

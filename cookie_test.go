package cookieauth

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func parseSetCookies(h http.Header) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range (&http.Response{Header: h}).Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestCookieTransportRendersConfig(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr, err := NewCookieTransport(CookieConfig{
		Domain:   "example.com",
		Path:     "/app",
		SameSite: "none",
		Secure:   true,
		HTTPOnly: true,
	}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("transport: %v", err)
	}

	h := http.Header{}
	tr.Apply(h, []CookieInstruction{
		{Name: "access", Value: "tok", MaxAge: 90 * time.Second},
		{Name: "refresh", Clear: true},
	})
	lines := h.Values("Set-Cookie")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %v", lines)
	}
	for _, want := range []string{"access=tok", "Domain=example.com", "Path=/app", "Max-Age=90", "HttpOnly", "Secure", "SameSite=None"} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("set line %q missing %q", lines[0], want)
		}
	}

	cookies := parseSetCookies(h)
	if got := cookies["access"].Expires; !got.Equal(now.Add(90 * time.Second)) {
		t.Fatalf("unexpected expires %v", got)
	}
	clear := cookies["refresh"]
	if clear.Value != "" || clear.MaxAge >= 0 || !clear.Expires.Equal(time.Unix(0, 0)) {
		t.Fatalf("unexpected clear cookie %+v", clear)
	}
	if !strings.Contains(lines[1], "Max-Age=0") {
		t.Fatalf("clear must render Max-Age=0: %q", lines[1])
	}
}

func TestCookieTransportDefaults(t *testing.T) {
	tr, err := NewCookieTransport(DefaultConfig().Cookie, nil)
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	c := tr.Cookie(CookieInstruction{Name: "JWT_ACCESS_TOKEN", Value: "v", MaxAge: time.Minute})
	if c.Path != "/" || c.SameSite != http.SameSiteLaxMode || c.Secure || !c.HttpOnly || c.Domain != "" {
		t.Fatalf("unexpected default cookie %+v", c)
	}
}

func TestCookieTransportRejectsUnknownSameSite(t *testing.T) {
	if _, err := NewCookieTransport(CookieConfig{SameSite: "loose"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestQueueReplacesByName(t *testing.T) {
	a := &Auth{}
	a.queue(CookieInstruction{Name: "a", Value: "1"})
	a.queue(CookieInstruction{Name: "b", Value: "2"})
	a.queue(CookieInstruction{Name: "a", Clear: true})

	got := a.PendingCookies()
	if len(got) != 2 || got[0].Name != "a" || !got[0].Clear || got[1].Value != "2" {
		t.Fatalf("unexpected queue %+v", got)
	}
	got[0].Name = "mutated"
	if a.PendingCookies()[0].Name != "a" {
		t.Fatal("PendingCookies must return a copy")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, remote: "10.0.0.2:80", want: "203.0.113.7"},
		{name: "forwarded garbage falls through", headers: map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "198.51.100.1"}, remote: "10.0.0.2:80", want: "198.51.100.1"},
		{name: "remote addr", remote: "192.0.2.44:5555", want: "192.0.2.44"},
		{name: "remote without port", remote: "192.0.2.45", want: "192.0.2.45"},
		{name: "ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

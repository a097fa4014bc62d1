package cookieauth

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/cookieauth/refresh"
)

// Metadata keys written by DefaultMetadataHook.
const (
	MetadataClientIP  = "client_ip"
	MetadataUserAgent = "user_agent"
)

// MetadataHook annotates a refresh record with request-derived fields before
// it is persisted. r is nil when a session is issued outside an HTTP request.
type MetadataHook func(r *http.Request, rec *refresh.Record)

// DefaultMetadataHook records the client IP and User-Agent.
func DefaultMetadataHook(r *http.Request, rec *refresh.Record) {
	if r == nil {
		return
	}
	if ip := ClientIP(r); ip != "" {
		rec.Metadata[MetadataClientIP] = ip
	}
	if ua := r.UserAgent(); ua != "" {
		rec.Metadata[MetadataUserAgent] = ua
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr. Forwarding headers are only trustworthy behind a
// proxy that overwrites them.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" && net.ParseIP(xr) != nil {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

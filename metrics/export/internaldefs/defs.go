package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/cookieauth"
	"github.com/MrEthical07/cookieauth/internal/metrics"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   cookieauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   cookieauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: cookieauth.MetricAuthAnonymous, Name: "cookieauth_anonymous_total", Help: "Requests carrying no auth cookie."},
	{ID: cookieauth.MetricAccessValid, Name: "cookieauth_access_valid_total", Help: "Requests authenticated by a valid access token."},
	{ID: cookieauth.MetricAccessRejected, Name: "cookieauth_access_rejected_total", Help: "Access tokens that failed verification."},
	{ID: cookieauth.MetricAccessRenewed, Name: "cookieauth_access_renewed_total", Help: "Access tokens minted from a refresh token."},
	{ID: cookieauth.MetricRefreshRejected, Name: "cookieauth_refresh_rejected_total", Help: "Refresh tokens that were unknown, revoked or expired."},
	{ID: cookieauth.MetricLoginSuccess, Name: "cookieauth_login_success_total", Help: "Sessions issued by a login."},
	{ID: cookieauth.MetricLoginDeclined, Name: "cookieauth_login_declined_total", Help: "Logins the application declined."},
	{ID: cookieauth.MetricLogout, Name: "cookieauth_logout_total", Help: "Single-session logouts."},
	{ID: cookieauth.MetricLogoutEverywhere, Name: "cookieauth_logout_everywhere_total", Help: "Logouts revoking every session of a user."},
	{ID: cookieauth.MetricLogoutOthers, Name: "cookieauth_logout_others_total", Help: "Revocations of every session of a user but the current one."},
	{ID: cookieauth.MetricCookiesCleared, Name: "cookieauth_cookies_cleared_total", Help: "Responses clearing both auth cookies."},
	{ID: cookieauth.MetricStorageFault, Name: "cookieauth_storage_fault_total", Help: "Refresh storage failures."},
	{ID: cookieauth.MetricRecorderFailure, Name: "cookieauth_login_recorder_failure_total", Help: "Login recorder callbacks that returned an error."},
	{ID: cookieauth.MetricGuardRejected, Name: "cookieauth_guard_rejected_total", Help: "Operations rejected by a guard."},
}

var HistogramDefs = []HistogramDef{
	{ID: cookieauth.MetricAuthenticateLatency, Name: "cookieauth_authenticate_latency_seconds", Help: "Latency of the per-request authentication pass."},
}

// AuditDroppedName is the counter for audit events lost to backpressure. It
// is read from the dispatcher directly, so MetricAuditDropped has no entry in
// CounterDefs.
const AuditDroppedName = "cookieauth_audit_dropped_total"

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = metrics.BucketCount

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(metrics.BucketBounds))
	for i, d := range metrics.BucketBounds {
		out[i] = d.Seconds()
	}
	return out
}

// BoundSuffixes returns instrument name suffixes for every bucket, the last
// one being "inf".
func BoundSuffixes() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds() {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range raw {
		running += raw[i]
		out[i] = running
	}
	return out
}

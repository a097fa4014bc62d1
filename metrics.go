package cookieauth

import (
	"github.com/MrEthical07/cookieauth/internal/metrics"
)

// MetricID identifies one counter or histogram in a MetricsSnapshot.
type MetricID = metrics.MetricID

const (
	MetricAuthAnonymous       = metrics.AuthAnonymous
	MetricAccessValid         = metrics.AccessValid
	MetricAccessRejected      = metrics.AccessRejected
	MetricAccessRenewed       = metrics.AccessRenewed
	MetricRefreshRejected     = metrics.RefreshRejected
	MetricLoginSuccess        = metrics.LoginSuccess
	MetricLoginDeclined       = metrics.LoginDeclined
	MetricLogout              = metrics.Logout
	MetricLogoutEverywhere    = metrics.LogoutEverywhere
	MetricLogoutOthers        = metrics.LogoutOthers
	MetricCookiesCleared      = metrics.CookiesCleared
	MetricStorageFault        = metrics.StorageFault
	MetricRecorderFailure     = metrics.RecorderFailure
	MetricGuardRejected       = metrics.GuardRejected
	MetricAuditDropped        = metrics.AuditDropped
	MetricAuthenticateLatency = metrics.AuthenticateLatency
)

// MetricsSnapshot is a point-in-time copy of every counter. Histograms is
// only populated when latency histograms are enabled.
type MetricsSnapshot = metrics.Snapshot

// MetricsSnapshot returns the current counters. It is empty when metrics are
// disabled.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

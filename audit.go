package cookieauth

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/cookieauth/internal/audit"
)

// Audit event types emitted by the Manager.
const (
	AuditLoginSuccess     = "login_success"
	AuditAccessRenewed    = "access_renewed"
	AuditRefreshRejected  = "refresh_rejected"
	AuditLogout           = "logout"
	AuditLogoutEverywhere = "logout_everywhere"
	AuditLogoutOthers     = "logout_others"
	AuditStorageFault     = "storage_fault"
)

type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
)

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewSlogSink(logger *slog.Logger) *SlogSink { return audit.NewSlogSink(logger) }

func (m *Manager) emit(ctx context.Context, a *Auth, eventType, userID, recordID string, success bool, reason string) {
	if m.audit == nil {
		return
	}
	event := audit.Event{
		Timestamp: m.now().UTC(),
		Type:      eventType,
		UserID:    userID,
		RecordID:  recordID,
		Success:   success,
		Reason:    reason,
	}
	if a != nil {
		event.IP = a.ClientIP
		event.UserAgent = a.UserAgent
	}
	m.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full. MetricAuditDropped counts the same drops when
// metrics are enabled.
func (m *Manager) AuditDropped() uint64 {
	return m.audit.Dropped()
}

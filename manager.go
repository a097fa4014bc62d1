package cookieauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/cookieauth/internal/audit"
	"github.com/MrEthical07/cookieauth/internal/metrics"
	"github.com/MrEthical07/cookieauth/jwt"
	"github.com/MrEthical07/cookieauth/refresh"
)

// ClaimsHook adds extension claims to every access token minted for userID.
type ClaimsHook func(ctx context.Context, userID string, ext map[string]any)

// LoginRecorder is told about every login and every silent access renewal,
// for example to maintain a last-seen timestamp. Its errors are logged and
// never reach the request.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// LoginRecorderFunc adapts a function to LoginRecorder.
type LoginRecorderFunc func(ctx context.Context, userID string, at time.Time) error

func (f LoginRecorderFunc) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return f(ctx, userID, at)
}

// SingleSessionPolicy reports whether userID may hold only one session. It is
// consulted on every login.
type SingleSessionPolicy func(ctx context.Context, userID string) bool

// Session is one refresh record of a user as reported by Sessions.
type Session struct {
	ID        string
	Current   bool
	Active    bool
	ClientIP  string
	UserAgent string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// RevokedAt is zero for sessions that were never revoked.
	RevokedAt time.Time
}

// Manager issues, verifies, renews and revokes the access/refresh token pair.
// It is immutable after Build and safe for concurrent use.
type Manager struct {
	cfg       Config
	codec     *jwt.Codec
	store     *refresh.Store
	transport *CookieTransport

	logger   *slog.Logger
	audit    *audit.Dispatcher
	metrics  *metrics.Metrics
	metadata MetadataHook
	claims   ClaimsHook
	recorder LoginRecorder
	single   SingleSessionPolicy
	now      func() time.Time
}

// Config returns a copy of the configuration the manager was built with.
func (m *Manager) Config() Config {
	return cloneConfig(m.cfg)
}

// Authenticate runs the per-request authentication pass:
//
//   - no auth cookies: anonymous, nothing queued;
//   - a valid access cookie: authenticated without touching storage;
//   - otherwise a refresh cookie is exchanged for a new access cookie, or both
//     cookies are queued for clearing when it is no longer usable.
//
// Token problems never fail the request. Only storage faults and signing
// failures are returned.
func (m *Manager) Authenticate(ctx context.Context, r *http.Request) (*Auth, error) {
	if m.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { m.metrics.Observe(metrics.AuthenticateLatency, time.Since(start)) }()
	}

	a := m.newAuth(r)
	access := cookieValue(r, m.cfg.Cookie.AccessName)
	refreshToken := cookieValue(r, m.cfg.Cookie.RefreshName)
	a.inboundAccess = access != ""
	a.inboundRefresh = refreshToken

	if access == "" && refreshToken == "" {
		m.metrics.Inc(metrics.AuthAnonymous)
		return a, nil
	}

	if access != "" {
		claims, err := m.codec.Verify(access)
		if err == nil {
			a.UserID = claims.Subject
			a.Claims = claims
			a.RefreshToken = refreshToken
			m.metrics.Inc(metrics.AccessValid)
			return a, nil
		}
		m.metrics.Inc(metrics.AccessRejected)
		m.logger.DebugContext(ctx, "access token rejected", slog.String("error", err.Error()))
	}

	if refreshToken == "" {
		m.clearCookies(a)
		return a, nil
	}

	rec, err := m.store.FetchValid(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, refresh.ErrStorageFault) {
			m.storageFault(ctx, a, "refresh", err)
			return nil, err
		}
		m.metrics.Inc(metrics.RefreshRejected)
		m.logger.DebugContext(ctx, "refresh token rejected", slog.String("error", err.Error()))
		m.emit(ctx, a, AuditRefreshRejected, "", "", false, rejectReason(err))
		m.clearCookies(a)
		return a, nil
	}

	token, claims, err := m.mintAccess(ctx, rec.OwnerID, rec.IssuedAt)
	if err != nil {
		return nil, err
	}
	a.UserID = rec.OwnerID
	a.Claims = &claims
	a.RefreshToken = refreshToken
	a.queue(CookieInstruction{Name: m.cfg.Cookie.AccessName, Value: token, MaxAge: m.codec.AccessTTL()})

	m.metrics.Inc(metrics.AccessRenewed)
	m.emit(ctx, a, AuditAccessRenewed, rec.OwnerID, rec.ID, true, "")
	m.recordLogin(ctx, rec.OwnerID)
	return a, nil
}

// NewAuth returns an anonymous Auth bound to r without reading its cookies.
// It is meant for code paths that issue sessions outside Authenticate.
func (m *Manager) NewAuth(r *http.Request) *Auth {
	return m.newAuth(r)
}

func (m *Manager) newAuth(r *http.Request) *Auth {
	a := &Auth{Request: r, manager: m}
	if r != nil {
		a.ClientIP = ClientIP(r)
		a.UserAgent = r.UserAgent()
	}
	return a
}

// IssueSession creates a refresh record for userID, mints a matching access
// token and queues both cookies on a.
func (m *Manager) IssueSession(ctx context.Context, a *Auth, userID string) error {
	if a == nil {
		return ErrNoAuthContext
	}
	if userID == "" {
		return errors.New("cookieauth: empty user id")
	}

	rec, token, err := m.store.Create(ctx, userID, func(rec *refresh.Record) {
		if m.metadata != nil {
			m.metadata(a.Request, rec)
		}
	})
	if err != nil {
		if errors.Is(err, refresh.ErrStorageFault) {
			m.storageFault(ctx, a, "login", err)
		}
		return err
	}

	access, claims, err := m.mintAccess(ctx, userID, rec.IssuedAt)
	if err != nil {
		if rerr := m.store.Revoke(ctx, rec); rerr != nil {
			m.logger.WarnContext(ctx, "revoke after failed access mint", slog.String("record_id", rec.ID), slog.String("error", rerr.Error()))
		}
		return err
	}

	if m.single != nil && m.single(ctx, userID) {
		if err := m.revokeOthers(ctx, a, userID, rec.ID, "login"); err != nil {
			if rerr := m.store.Revoke(ctx, rec); rerr != nil {
				m.logger.WarnContext(ctx, "revoke after failed single-session login", slog.String("record_id", rec.ID), slog.String("error", rerr.Error()))
			}
			return err
		}
	}

	a.UserID = userID
	a.Claims = &claims
	a.RefreshToken = token
	a.principal = nil
	a.queue(CookieInstruction{Name: m.cfg.Cookie.AccessName, Value: access, MaxAge: m.codec.AccessTTL()})
	a.queue(CookieInstruction{Name: m.cfg.Cookie.RefreshName, Value: token, MaxAge: m.store.TTL()})

	m.metrics.Inc(metrics.LoginSuccess)
	m.emit(ctx, a, AuditLoginSuccess, userID, rec.ID, true, "")
	m.recordLogin(ctx, userID)
	return nil
}

// EndSession revokes the refresh record bound to a, if any, and queues clears
// for both cookies when the request carried an auth cookie or a session was
// issued during it. Records that are already unusable are not an error.
//
// A request that presented only an access cookie also gets both cookies
// cleared, not just the refresh one. When a is authenticated, a refresh
// cookie pointing at another user's record is not revoked.
func (m *Manager) EndSession(ctx context.Context, a *Auth) error {
	if a == nil {
		return ErrNoAuthContext
	}
	token := m.sessionToken(a)
	if token != "" {
		found, err := m.store.RevokeToken(ctx, token, a.UserID)
		if err != nil {
			m.storageFault(ctx, a, "logout", err)
			return err
		}
		if !found && a.UserID != "" {
			m.logger.DebugContext(ctx, "logout refresh cookie matched no record of user", slog.String("user_id", a.UserID))
		}
	}

	userID := a.UserID
	if token != "" || a.inboundAccess {
		m.clearCookies(a)
	}
	a.reset()

	m.metrics.Inc(metrics.Logout)
	m.emit(ctx, a, AuditLogout, userID, "", true, "")
	return nil
}

// EndAllSessions revokes every refresh record of the authenticated user and
// clears both cookies. It returns ErrUnauthorized for anonymous requests.
func (m *Manager) EndAllSessions(ctx context.Context, a *Auth) error {
	if a == nil {
		return ErrNoAuthContext
	}
	if !a.Authenticated() {
		return ErrUnauthorized
	}
	userID := a.UserID
	n, err := m.store.RevokeOwner(ctx, userID)
	if err != nil {
		m.storageFault(ctx, a, "logout everywhere", err)
		return err
	}
	m.clearCookies(a)
	a.reset()

	m.metrics.Inc(metrics.LogoutEverywhere)
	m.emit(ctx, a, AuditLogoutEverywhere, userID, "", true, fmt.Sprintf("revoked=%d", n))
	return nil
}

// EndOtherSessions revokes every refresh record of the authenticated user but
// the one bound to a. Cookies are left alone. Without a usable refresh cookie
// on a, every record of the user is revoked. It returns ErrUnauthorized for
// anonymous requests.
func (m *Manager) EndOtherSessions(ctx context.Context, a *Auth) error {
	if a == nil {
		return ErrNoAuthContext
	}
	if !a.Authenticated() {
		return ErrUnauthorized
	}
	current, err := m.currentRecord(ctx, a)
	if err != nil {
		m.storageFault(ctx, a, "logout others", err)
		return err
	}
	var keepID string
	if current != nil {
		keepID = current.ID
	}
	return m.revokeOthers(ctx, a, a.UserID, keepID, "logout")
}

// Sessions lists the refresh records of the authenticated user, active ones
// first and newest first within each group. It returns ErrUnauthorized for
// anonymous requests.
func (m *Manager) Sessions(ctx context.Context, a *Auth) ([]Session, error) {
	if a == nil {
		return nil, ErrNoAuthContext
	}
	if !a.Authenticated() {
		return nil, ErrUnauthorized
	}
	current, err := m.currentRecord(ctx, a)
	if err != nil {
		m.storageFault(ctx, a, "sessions", err)
		return nil, err
	}
	recs, err := m.store.ListOwner(ctx, a.UserID)
	if err != nil {
		m.storageFault(ctx, a, "sessions", err)
		return nil, err
	}
	return m.sessions(recs, current), nil
}

func (m *Manager) sessions(recs []*refresh.Record, current *refresh.Record) []Session {
	now := m.now()
	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Session{
			ID:        rec.ID,
			Current:   current != nil && rec.ID == current.ID,
			Active:    rec.Usable(now),
			ClientIP:  rec.Metadata[MetadataClientIP],
			UserAgent: rec.Metadata[MetadataUserAgent],
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
			RevokedAt: rec.RevokedAt,
		})
	}
	return out
}

// currentRecord resolves the refresh token bound to a. It returns nil when
// there is none or it belongs to another user.
func (m *Manager) currentRecord(ctx context.Context, a *Auth) (*refresh.Record, error) {
	token := m.sessionToken(a)
	if token == "" {
		return nil, nil
	}
	rec, err := m.store.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.OwnerID != a.UserID {
		return nil, nil
	}
	return rec, nil
}

func (m *Manager) revokeOthers(ctx context.Context, a *Auth, userID, keepID, op string) error {
	n, err := m.store.RevokeOwnerExcept(ctx, userID, keepID)
	if err != nil {
		m.storageFault(ctx, a, op+" others", err)
		return err
	}
	m.metrics.Inc(metrics.LogoutOthers)
	m.emit(ctx, a, AuditLogoutOthers, userID, keepID, true, fmt.Sprintf("%s revoked=%d", op, n))
	return nil
}

func (m *Manager) sessionToken(a *Auth) string {
	if a.RefreshToken != "" {
		return a.RefreshToken
	}
	return a.inboundRefresh
}

// PurgeExpired deletes refresh records past their expiry. It is a
// housekeeping call; nothing in the request path invokes it.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.PurgeExpired(ctx)
}

// Close flushes and stops the audit dispatcher. The manager stays usable;
// later audit events are dropped.
func (m *Manager) Close() {
	m.audit.Close()
}

func (m *Manager) mintAccess(ctx context.Context, userID string, origIssuedAt time.Time) (string, jwt.Claims, error) {
	claims := jwt.Claims{
		OrigIssuedAt:     gojwt.NewNumericDate(origIssuedAt),
		RegisteredClaims: gojwt.RegisteredClaims{Subject: userID},
	}
	if m.claims != nil {
		ext := map[string]any{}
		m.claims(ctx, userID, ext)
		if len(ext) > 0 {
			claims.Extensions = ext
		}
	}
	token, issued, err := m.codec.Issue(claims)
	if err != nil {
		m.logger.ErrorContext(ctx, "mint access token", slog.String("user_id", userID), slog.String("error", err.Error()))
		return "", jwt.Claims{}, fmt.Errorf("cookieauth: mint access token: %w", err)
	}
	return token, issued, nil
}

func (m *Manager) clearCookies(a *Auth) {
	a.queue(CookieInstruction{Name: m.cfg.Cookie.AccessName, Clear: true})
	a.queue(CookieInstruction{Name: m.cfg.Cookie.RefreshName, Clear: true})
	m.metrics.Inc(metrics.CookiesCleared)
}

func (m *Manager) recordLogin(ctx context.Context, userID string) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordLogin(ctx, userID, m.now()); err != nil {
		m.metrics.Inc(metrics.RecorderFailure)
		m.logger.WarnContext(ctx, "login recorder failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func (m *Manager) storageFault(ctx context.Context, a *Auth, op string, err error) {
	m.metrics.Inc(metrics.StorageFault)
	m.logger.ErrorContext(ctx, "refresh storage fault", slog.String("op", op), slog.String("error", err.Error()))
	m.emit(ctx, a, AuditStorageFault, a.UserID, "", false, op)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, refresh.ErrRevoked):
		return "revoked"
	case errors.Is(err, refresh.ErrExpired):
		return "expired"
	default:
		return "not_found"
	}
}

func cookieValue(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

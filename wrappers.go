package cookieauth

import (
	"context"

	"github.com/MrEthical07/cookieauth/internal/metrics"
)

// LoginOutcome is what a login operation reports back to the Login wrapper.
type LoginOutcome struct {
	userID string
}

// AuthenticatedAs reports that credentials checked out for userID.
func AuthenticatedAs(userID string) LoginOutcome {
	return LoginOutcome{userID: userID}
}

// NotAuthenticated reports that no principal was authenticated.
func NotAuthenticated() LoginOutcome {
	return LoginOutcome{}
}

// UserID returns the authenticated id, if any.
func (o LoginOutcome) UserID() (string, bool) {
	return o.userID, o.userID != ""
}

// LoginOperation checks credentials and reports the outcome.
type LoginOperation[T any] func(ctx context.Context, a *Auth) (T, LoginOutcome, error)

// Login issues a session when op authenticates a principal without error.
// Otherwise op's result and error pass through and nothing is queued.
func Login[T any](op LoginOperation[T]) Operation[T] {
	return func(ctx context.Context, a *Auth) (T, error) {
		res, outcome, err := op(ctx, a)
		if err != nil {
			return res, err
		}
		userID, ok := outcome.UserID()
		if !ok {
			if a != nil && a.manager != nil {
				a.manager.metrics.Inc(metrics.LoginDeclined)
			}
			return res, nil
		}
		if a == nil || a.manager == nil {
			return res, ErrNoAuthContext
		}
		if err := a.manager.IssueSession(ctx, a, userID); err != nil {
			return res, err
		}
		return res, nil
	}
}

// LogoutOutcome is what a logout operation reports back to the Logout wrapper.
type LogoutOutcome bool

const (
	LogoutConfirmed LogoutOutcome = true
	LogoutDeclined  LogoutOutcome = false
)

// LogoutOperation performs consumer logout logic and reports the outcome.
type LogoutOperation[T any] func(ctx context.Context, a *Auth) (T, LogoutOutcome, error)

// Logout ends the current session when op confirms without error. Both auth
// cookies are cleared whenever the request carried either of them, so a
// request holding only an access cookie is logged out too. See EndSession.
func Logout[T any](op LogoutOperation[T]) Operation[T] {
	return logoutWith(op, (*Manager).EndSession)
}

// LogoutOthers revokes every session of the current user except the one the
// request belongs to when op confirms without error. The caller stays logged
// in.
func LogoutOthers[T any](op LogoutOperation[T]) Operation[T] {
	return logoutWith(op, (*Manager).EndOtherSessions)
}

// LogoutEverywhere revokes every session of the current user when op
// confirms without error.
func LogoutEverywhere[T any](op LogoutOperation[T]) Operation[T] {
	return logoutWith(op, (*Manager).EndAllSessions)
}

func logoutWith[T any](op LogoutOperation[T], end func(*Manager, context.Context, *Auth) error) Operation[T] {
	return func(ctx context.Context, a *Auth) (T, error) {
		res, outcome, err := op(ctx, a)
		if err != nil || outcome != LogoutConfirmed {
			return res, err
		}
		if a == nil || a.manager == nil {
			return res, ErrNoAuthContext
		}
		if err := end(a.manager, ctx, a); err != nil {
			return res, err
		}
		return res, nil
	}
}

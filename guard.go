package cookieauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/cookieauth/internal/metrics"
)

// Operation is a unit of business logic that runs with the request's Auth.
type Operation[T any] func(ctx context.Context, a *Auth) (T, error)

// Guard wraps an Operation and decides whether it runs.
type Guard[T any] func(next Operation[T]) Operation[T]

// UserStore loads principals by id. FetchByID must return an error wrapping
// ErrUserNotFound when no user has the id.
type UserStore[U any] interface {
	FetchByID(ctx context.Context, userID string) (U, error)
}

// UserStoreFunc adapts a function to UserStore.
type UserStoreFunc[U any] func(ctx context.Context, userID string) (U, error)

func (f UserStoreFunc[U]) FetchByID(ctx context.Context, userID string) (U, error) {
	return f(ctx, userID)
}

// Invoke runs op with the Auth attached to ctx.
func Invoke[T any](ctx context.Context, op Operation[T]) (T, error) {
	a, ok := FromContext(ctx)
	if !ok {
		var zero T
		return zero, ErrNoAuthContext
	}
	return op(ctx, a)
}

// RequireAuth fails with ErrUnauthorized before next runs when the request is
// anonymous.
func RequireAuth[T any](next Operation[T]) Operation[T] {
	return func(ctx context.Context, a *Auth) (T, error) {
		if !a.Authenticated() {
			a.rejected()
			var zero T
			return zero, ErrUnauthorized
		}
		return next(ctx, a)
	}
}

// ResolveUser loads the authenticated user from users and attaches it to a
// before next runs. Anonymous requests and unknown users fail with
// ErrUnauthorized; any other lookup error is returned as is.
func ResolveUser[T, U any](users UserStore[U], next Operation[T]) Operation[T] {
	return func(ctx context.Context, a *Auth) (T, error) {
		var zero T
		if !a.Authenticated() {
			a.rejected()
			return zero, ErrUnauthorized
		}
		user, err := users.FetchByID(ctx, a.UserID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				a.rejected()
				return zero, fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			return zero, err
		}
		a.principal = user
		return next(ctx, a)
	}
}

// ResolveUserGuard is ResolveUser in Guard form, for use with Chain.
func ResolveUserGuard[T, U any](users UserStore[U]) Guard[T] {
	return func(next Operation[T]) Operation[T] {
		return ResolveUser(users, next)
	}
}

// Chain composes guards; the first guard runs first.
func Chain[T any](guards ...Guard[T]) Guard[T] {
	return func(next Operation[T]) Operation[T] {
		for i := len(guards) - 1; i >= 0; i-- {
			next = guards[i](next)
		}
		return next
	}
}

// Principal returns the user attached by ResolveUser.
func Principal[U any](a *Auth) (U, bool) {
	if a == nil {
		var zero U
		return zero, false
	}
	u, ok := a.principal.(U)
	return u, ok
}

func (a *Auth) rejected() {
	if a != nil && a.manager != nil {
		a.manager.metrics.Inc(metrics.GuardRejected)
	}
}

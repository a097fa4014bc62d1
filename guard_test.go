package cookieauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type user struct {
	ID   string
	Name string
}

func authAs(userID string) *Auth {
	return &Auth{UserID: userID}
}

func TestRequireAuth(t *testing.T) {
	op := RequireAuth(func(_ context.Context, a *Auth) (string, error) {
		return "hello " + a.UserID, nil
	})

	if _, err := op(context.Background(), authAs("")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := op(context.Background(), nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("nil auth: expected ErrUnauthorized, got %v", err)
	}
	got, err := op(context.Background(), authAs("u-1"))
	if err != nil || got != "hello u-1" {
		t.Fatalf("unexpected %q %v", got, err)
	}
}

func TestResolveUser(t *testing.T) {
	lookupErr := errors.New("db down")
	users := UserStoreFunc[user](func(_ context.Context, id string) (user, error) {
		switch id {
		case "u-1":
			return user{ID: "u-1", Name: "Alice"}, nil
		case "u-err":
			return user{}, lookupErr
		default:
			return user{}, fmt.Errorf("id %s: %w", id, ErrUserNotFound)
		}
	})
	op := ResolveUser[string, user](users, func(_ context.Context, a *Auth) (string, error) {
		u, ok := Principal[user](a)
		if !ok {
			return "", errors.New("principal missing")
		}
		return u.Name, nil
	})

	tests := []struct {
		name    string
		auth    *Auth
		want    string
		wantErr []error
	}{
		{name: "resolved", auth: authAs("u-1"), want: "Alice"},
		{name: "anonymous", auth: authAs(""), wantErr: []error{ErrUnauthorized}},
		{name: "absent user", auth: authAs("u-404"), wantErr: []error{ErrUnauthorized, ErrUserNotFound}},
		{name: "lookup error", auth: authAs("u-err"), wantErr: []error{lookupErr}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := op(context.Background(), tc.auth)
			if len(tc.wantErr) == 0 {
				if err != nil || got != tc.want {
					t.Fatalf("got %q %v, want %q", got, err, tc.want)
				}
				return
			}
			for _, want := range tc.wantErr {
				if !errors.Is(err, want) {
					t.Fatalf("expected %v in %v", want, err)
				}
			}
		})
	}
}

func TestLookupErrorIsNotUnauthorized(t *testing.T) {
	users := UserStoreFunc[user](func(context.Context, string) (user, error) {
		return user{}, errors.New("timeout")
	})
	op := ResolveUser[int, user](users, func(context.Context, *Auth) (int, error) { return 1, nil })
	if _, err := op(context.Background(), authAs("u-1")); errors.Is(err, ErrUnauthorized) {
		t.Fatalf("lookup failures must not masquerade as ErrUnauthorized: %v", err)
	}
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Guard[string] {
		return func(next Operation[string]) Operation[string] {
			return func(ctx context.Context, a *Auth) (string, error) {
				trace = append(trace, name)
				return next(ctx, a)
			}
		}
	}
	op := Chain(mark("first"), mark("second"), RequireAuth[string])(func(context.Context, *Auth) (string, error) {
		trace = append(trace, "op")
		return "ok", nil
	})

	if _, err := op(context.Background(), authAs("u-1")); err != nil {
		t.Fatalf("chain: %v", err)
	}
	if got := strings.Join(trace, ","); got != "first,second,op" {
		t.Fatalf("unexpected order %s", got)
	}

	trace = nil
	if _, err := op(context.Background(), authAs("")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := strings.Join(trace, ","); got != "first,second" {
		t.Fatalf("op must not run, trace %s", got)
	}
}

func TestChainWithResolveUserGuard(t *testing.T) {
	users := UserStoreFunc[user](func(_ context.Context, id string) (user, error) {
		return user{ID: id, Name: "Bob"}, nil
	})
	guard := Chain(RequireAuth[string], ResolveUserGuard[string, user](users))
	op := guard(func(_ context.Context, a *Auth) (string, error) {
		u, _ := Principal[user](a)
		return u.Name, nil
	})
	got, err := op(context.Background(), authAs("u-2"))
	if err != nil || got != "Bob" {
		t.Fatalf("unexpected %q %v", got, err)
	}
}

func TestInvoke(t *testing.T) {
	op := func(_ context.Context, a *Auth) (string, error) { return a.UserID, nil }

	if _, err := Invoke[string](context.Background(), op); !errors.Is(err, ErrNoAuthContext) {
		t.Fatalf("expected ErrNoAuthContext, got %v", err)
	}
	ctx := WithAuth(context.Background(), authAs("u-5"))
	got, err := Invoke[string](ctx, op)
	if err != nil || got != "u-5" {
		t.Fatalf("unexpected %q %v", got, err)
	}
}

func TestPrincipalTypeMismatch(t *testing.T) {
	a := authAs("u-1")
	a.principal = user{ID: "u-1"}
	if _, ok := Principal[string](a); ok {
		t.Fatal("principal of another type must not resolve")
	}
	if _, ok := Principal[user](nil); ok {
		t.Fatal("nil auth has no principal")
	}
}

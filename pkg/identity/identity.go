// Package identity resolves the owner id that scopes every registry and
// gateway call.
package identity

import (
	"context"
	"errors"
	"os/user"
	"strings"
)

// ErrNoIdentity is returned when no owner id can be determined.
var ErrNoIdentity = errors.New("no owner identity available")

// Resolver returns the owner id of the current caller.
type Resolver interface {
	OwnerID(ctx context.Context) (string, error)
}

// Static always resolves to the same id.
type Static string

func (s Static) OwnerID(context.Context) (string, error) {
	id := strings.TrimSpace(string(s))
	if id == "" {
		return "", ErrNoIdentity
	}
	return id, nil
}

type ctxKey struct{}

// WithOwner returns a context carrying ownerID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ownerID)
}

// FromContext returns the owner id stored by WithOwner.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Chain tries each resolver in order and returns the first id found. A context
// owner set with WithOwner always wins.
type Chain []Resolver

func (c Chain) OwnerID(ctx context.Context) (string, error) {
	if id, ok := FromContext(ctx); ok {
		return id, nil
	}
	for _, r := range c {
		id, err := r.OwnerID(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNoIdentity) {
			return "", err
		}
	}
	return "", ErrNoIdentity
}

// OSUser resolves to the login name of the process owner.
type OSUser struct {
	lookup func() (*user.User, error)
}

func (o OSUser) OwnerID(context.Context) (string, error) {
	lookup := o.lookup
	if lookup == nil {
		lookup = user.Current
	}
	u, err := lookup()
	if err != nil || u.Username == "" {
		return "", ErrNoIdentity
	}
	return u.Username, nil
}

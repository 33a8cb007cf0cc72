package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const RoleAdmin = "admin"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	// ErrUnavailable means the identity could not be resolved because the
	// authority did not answer.
	ErrUnavailable = errors.New("identity_unavailable")
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID uuid.UUID `json:"id"`
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role,omitempty"`
}

func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// Resolver turns a bearer token into an Identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != uuid.Nil
}

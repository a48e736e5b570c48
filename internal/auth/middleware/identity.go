package middleware

import (
	"context"

	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/token"
)

// CredentialSource records where the request's token came from.
type CredentialSource int

const (
	SourceBearer CredentialSource = iota
	SourceCookie
)

func (s CredentialSource) String() string {
	if s == SourceCookie {
		return "cookie"
	}
	return "bearer"
}

// Identity is what the authentication gate attaches to a request. Role is
// always the account's current role, never the snapshot inside the token.
type Identity struct {
	Account models.Account
	Role    models.Role
	Token   string
	Claims  *token.Claims
	Source  CredentialSource
}

// AccountID is shorthand for Identity.Account.ID.
func (i *Identity) AccountID() int64 {
	return i.Account.ID
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by the authentication gate.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

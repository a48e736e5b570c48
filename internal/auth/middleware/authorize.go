package middleware

import (
	"net/http"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/cerr"
)

// RoleSet is the set of roles allowed through a route.
type RoleSet []models.Role

var (
	AdminOnly      = RoleSet{models.RoleAdmin}
	TeacherOrAdmin = RoleSet{models.RoleTeacher, models.RoleAdmin}
	AnyRole        = RoleSet{models.RoleUser, models.RoleTeacher, models.RoleAdmin}
)

func (s RoleSet) Contains(role models.Role) bool {
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// Authorize checks the identity's current role against allowed.
func Authorize(identity *Identity, allowed RoleSet) error {
	if identity == nil {
		return apierr.ErrAuthenticationRequired
	}
	if !allowed.Contains(identity.Role) {
		return apierr.New(apierr.KindForbidden, "role "+string(identity.Role)+" not allowed")
	}
	return nil
}

// NotSelf forbids an administrative action whose target is the caller.
func NotSelf(identity *Identity, targetID int64) error {
	if identity == nil {
		return apierr.ErrAuthenticationRequired
	}
	if identity.AccountID() == targetID {
		return apierr.New(apierr.KindForbidden, "operation not allowed on own account")
	}
	return nil
}

// OwnerOrAdmin allows admins everything and everyone else only resources
// they own.
func OwnerOrAdmin(identity *Identity, ownerID int64) error {
	if identity == nil {
		return apierr.ErrAuthenticationRequired
	}
	if identity.Role == models.RoleAdmin || identity.AccountID() == ownerID {
		return nil
	}
	return apierr.New(apierr.KindForbidden, "not the owner")
}

// RoleMiddleware is the authorization gate for a route. It must run after
// the authentication gate.
type RoleMiddleware struct {
	allowed RoleSet
}

func Require(allowed RoleSet) *RoleMiddleware {
	return &RoleMiddleware{allowed: allowed}
}

func (m *RoleMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if err := Authorize(identity, m.allowed); err != nil {
			cerr.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

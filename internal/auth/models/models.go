package models

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts s into a Role, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Account is a registered principal. The password hash never leaves the
// process in JSON.
type Account struct {
	ID                int64      `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	Role              Role       `db:"role" json:"role"`
	Active            bool       `db:"active" json:"active"`
	FailedAttempts    int        `db:"failed_attempts" json:"-"`
	LockedUntil       *time.Time `db:"locked_until" json:"-"`
	LastLoginAt       *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `db:"password_changed_at" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Public returns a copy with the password hash cleared.
func (a Account) Public() Account {
	a.PasswordHash = ""
	return a
}

// Counters is the lockout-related slice of an Account that the lockout policy
// reads and the store updates conditionally.
type Counters struct {
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
}

// Counters extracts the lockout counters of a.
func (a Account) Counters() Counters {
	return Counters{
		FailedAttempts: a.FailedAttempts,
		LockedUntil:    a.LockedUntil,
		LastLoginAt:    a.LastLoginAt,
	}
}

// AccountUpdate carries the optional fields of an administrative change.
type AccountUpdate struct {
	Role   *Role
	Active *bool
}

// Audit actions.
const (
	ActionLogin          = "login"
	ActionRegister       = "register"
	ActionPasswordChange = "password_change"
	ActionRoleChange     = "role_change"
	ActionStatusChange   = "status_change"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusLocked  = "locked"
)

type AuditLog struct {
	ID        int64     `db:"id" json:"id"`
	UserID    *int64    `db:"user_id" json:"user_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource"`
	Status    string    `db:"status" json:"status"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Details   string    `db:"details" json:"details"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

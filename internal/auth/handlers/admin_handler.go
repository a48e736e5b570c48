package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/database"
	"github.com/victorgomez09/escuela/internal/auth/middleware"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/service"
	"github.com/victorgomez09/escuela/internal/cerr"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 500
)

// AdminHandler serves account administration. Every route is expected to
// sit behind the admin-only gate.
type AdminHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAdminHandler(auth *service.AuthService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, logger: logger}
}

type RoleRequest struct {
	Role string `json:"role"`
}

func (r RoleRequest) Validate() []cerr.ValidationError {
	if r.Role == "" {
		return []cerr.ValidationError{{Field: "role", Error: "required"}}
	}
	if _, err := models.ParseRole(r.Role); err != nil {
		return []cerr.ValidationError{{Field: "role", Error: "must be user, teacher or admin"}}
	}
	return nil
}

type StatusRequest struct {
	Active *bool `json:"active"`
}

func (r StatusRequest) Validate() []cerr.ValidationError {
	if r.Active == nil {
		return []cerr.ValidationError{{Field: "active", Error: "required"}}
	}
	return nil
}

// ListUsers handles GET /api/users?role=&active=true.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var filter database.ListFilter
	if v := r.URL.Query().Get("role"); v != "" {
		role, err := models.ParseRole(v)
		if err != nil {
			cerr.WriteError(w, apierr.Validation("unknown role"))
			return
		}
		filter.Role = &role
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			cerr.WriteError(w, apierr.Validation("active must be a boolean"))
			return
		}
		filter.ActiveOnly = active
	}
	h.list(w, r, filter)
}

// ListAdmins handles GET /api/admins.
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	role := models.RoleAdmin
	h.list(w, r, database.ListFilter{Role: &role, ActiveOnly: true})
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request, filter database.ListFilter) {
	accounts, err := h.auth.ListAccounts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(accounts),
		"users":   accounts,
	})
}

// UpdateRole handles PUT /api/users/{id}/role. Admins cannot change their
// own role.
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	identity, targetID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if err := cerr.DecodeAndValidate(w, r, &req); err != nil {
		return
	}
	role, _ := models.ParseRole(req.Role)
	h.update(w, r, identity, targetID, models.AccountUpdate{Role: &role})
}

// UpdateStatus handles PUT /api/users/{id}/status. Admins cannot deactivate
// themselves.
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	identity, targetID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if err := cerr.DecodeAndValidate(w, r, &req); err != nil {
		return
	}
	h.update(w, r, identity, targetID, models.AccountUpdate{Active: req.Active})
}

// GrantAdmin handles PUT /api/admins/{id}. Granting to an admin is a no-op.
func (h *AdminHandler) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrAuthenticationRequired)
		return
	}
	targetID, err := pathID(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	role := models.RoleAdmin
	h.update(w, r, identity, targetID, models.AccountUpdate{Role: &role})
}

// RevokeAdmin handles DELETE /api/admins/{id}. The account drops back to
// the user role.
func (h *AdminHandler) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
	identity, targetID, ok := h.target(w, r)
	if !ok {
		return
	}

	target, err := h.auth.Profile(r.Context(), targetID)
	if err != nil {
		h.fail(w, r, "revoke admin", err)
		return
	}
	if target.Role != models.RoleAdmin {
		cerr.WriteError(w, apierr.Validation("account is not an admin"))
		return
	}

	role := models.RoleUser
	h.update(w, r, identity, targetID, models.AccountUpdate{Role: &role})
}

// AuditLogs handles GET /api/admin/audit-logs?user_id=&limit=.
func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var userID int64
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			cerr.WriteError(w, apierr.Validation("invalid user_id"))
			return
		}
		userID = id
	}

	limit := DefaultAuditLimit
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			cerr.WriteError(w, apierr.Validation("invalid limit"))
			return
		}
		limit = min(n, MaxAuditLimit)
	}

	logs, err := h.auth.AuditLogs(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, r, "audit logs", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(logs),
		"logs":    logs,
	})
}

// target resolves the caller and the {id} path value and applies the
// not-self guard.
func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (*middleware.Identity, int64, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrAuthenticationRequired)
		return nil, 0, false
	}
	targetID, err := pathID(r)
	if err != nil {
		cerr.WriteError(w, err)
		return nil, 0, false
	}
	if err := middleware.NotSelf(identity, targetID); err != nil {
		h.logger.Warn("Administrative action on own account rejected",
			zap.Int64("user_id", identity.AccountID()),
			zap.String("path", r.URL.Path))
		cerr.WriteError(w, err)
		return nil, 0, false
	}
	return identity, targetID, true
}

func (h *AdminHandler) update(w http.ResponseWriter, r *http.Request, identity *middleware.Identity, targetID int64, upd models.AccountUpdate) {
	account, err := h.auth.UpdateAccount(r.Context(), identity.AccountID(), targetID, upd, requestMeta(r))
	if err != nil {
		h.fail(w, r, "update account", err)
		return
	}
	h.logger.Info("Account updated",
		zap.Int64("actor_id", identity.AccountID()),
		zap.Int64("target_id", targetID),
		zap.String("role", string(account.Role)),
		zap.Bool("active", account.Active))
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    account,
	})
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logFailure(h.logger, r, op, err)
	cerr.WriteError(w, err)
}

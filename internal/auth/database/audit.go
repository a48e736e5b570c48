package database

import (
	"context"
	"time"

	"github.com/victorgomez09/escuela/internal/auth/models"
)

// CreateAuditLog inserts a new audit log into the audit_logs table.
func (s *Store) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	log.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, s.q(`
        INSERT INTO audit_logs (
            user_id, action, resource, status, ip,
            user_agent, details, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `), log.UserID, log.Action, log.Resource, log.Status,
		log.IP, log.UserAgent, log.Details, log.CreatedAt)
	return mapError("create audit log", err)
}

// ListAuditLogs returns the newest entries first. A zero userID lists all.
func (s *Store) ListAuditLogs(ctx context.Context, userID int64, limit int) ([]models.AuditLog, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, user_id, action, resource, status, ip, user_agent,
        COALESCE(details, '') AS details, created_at FROM audit_logs`
	args := []interface{}{}
	if userID > 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	logs := []models.AuditLog{}
	if err := s.db.SelectContext(ctx, &logs, s.q(query), args...); err != nil {
		return nil, mapError("list audit logs", err)
	}
	return logs, nil
}

// PurgeAuditLogs deletes entries older than before and returns how many went.
func (s *Store) PurgeAuditLogs(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM audit_logs WHERE created_at < ?`), before.UTC())
	if err != nil {
		return 0, mapError("purge audit logs", err)
	}
	n, err := res.RowsAffected()
	return n, mapError("purge audit logs", err)
}

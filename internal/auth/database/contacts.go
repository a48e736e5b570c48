package database

import (
	"context"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/models"
)

const contactColumns = `id, name, email, subject, message, status, created_at, updated_at`

func (s *Store) CreateContactMessage(ctx context.Context, m *models.ContactMessage) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	now := s.now()
	if m.Status == "" {
		m.Status = models.ContactNew
	}
	err := s.db.QueryRowxContext(ctx, s.q(`
        INSERT INTO contact_messages (name, email, subject, message, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        RETURNING id
    `), m.Name, m.Email, m.Subject, m.Message, m.Status, now, now).Scan(&m.ID)
	if err != nil {
		return mapError("create contact message", err)
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// ListContactMessages returns messages newest first, optionally narrowed to
// one status.
func (s *Store) ListContactMessages(ctx context.Context, status *models.ContactStatus) ([]models.ContactMessage, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	query := `SELECT ` + contactColumns + ` FROM contact_messages`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	msgs := []models.ContactMessage{}
	if err := s.db.SelectContext(ctx, &msgs, s.q(query), args...); err != nil {
		return nil, mapError("list contact messages", err)
	}
	return msgs, nil
}

func (s *Store) UpdateContactStatus(ctx context.Context, id int64, status models.ContactStatus) (*models.ContactMessage, error) {
	if !status.Valid() {
		return nil, apierr.Validation("unknown contact status")
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE contact_messages SET status = ?, updated_at = ? WHERE id = ?`),
		status, s.now(), id)
	if err != nil {
		return nil, mapError("update contact status", err)
	}
	if err := requireRow(res, "update contact status"); err != nil {
		return nil, err
	}

	var m models.ContactMessage
	if err := s.db.GetContext(ctx, &m, s.q(`SELECT `+contactColumns+` FROM contact_messages WHERE id = ?`), id); err != nil {
		return nil, mapError("update contact status", err)
	}
	return &m, nil
}

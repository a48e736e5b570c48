package database

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/models"
)

const accountColumns = `id, name, email, password_hash, role, active, failed_attempts,
    locked_until, last_login_at, password_changed_at, created_at, updated_at`

// CreateAccount inserts a and fills in its id and timestamps. The initial
// digest is the first password history entry. A duplicate email yields
// ErrConflict.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	now := s.now()
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Role == "" {
		a.Role = models.RoleUser
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, s.q(`
            INSERT INTO users (
                name, email, password_hash, role, active, failed_attempts,
                password_changed_at, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
            RETURNING id
        `), a.Name, a.Email, a.PasswordHash, a.Role, a.Active, a.PasswordChangedAt, now, now).Scan(&a.ID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, s.q(`
            INSERT INTO password_history (user_id, password_hash, created_at)
            VALUES (?, ?, ?)
        `), a.ID, a.PasswordHash, now)
		return err
	})
	if err != nil {
		return mapError("create account", err)
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// FindByEmail looks an account up by its normalized email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var a models.Account
	err := s.db.GetContext(ctx, &a, s.q(`SELECT `+accountColumns+` FROM users WHERE email = ?`),
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, mapError("find account by email", err)
	}
	return &a, nil
}

// FindByID looks an account up by id.
func (s *Store) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var a models.Account
	err := s.db.GetContext(ctx, &a, s.q(`SELECT `+accountColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, mapError("find account by id", err)
	}
	return &a, nil
}

// UpdateCounters writes the lockout counters only if the stored failed-attempt
// count still equals expected. A lost race yields ErrConflict and the caller
// re-reads.
func (s *Store) UpdateCounters(ctx context.Context, id int64, expected int, c models.Counters) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`
        UPDATE users SET
            failed_attempts = ?,
            locked_until = ?,
            last_login_at = ?,
            updated_at = ?
        WHERE id = ? AND failed_attempts = ?
    `), c.FailedAttempts, c.LockedUntil, c.LastLoginAt, s.now(), id, expected)
	if err != nil {
		return mapError("update counters", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return mapError("update counters", err)
	}
	if n == 0 {
		return apierr.New(apierr.KindConflict, "counters changed concurrently")
	}
	return nil
}

// UpdatePassword replaces the digest, stamps password_changed_at, clears the
// lockout counters and records the digest in the history, keeping the newest
// keep entries.
func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string, changedAt time.Time, keep int) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
            UPDATE users SET
                password_hash = ?,
                password_changed_at = ?,
                failed_attempts = 0,
                locked_until = NULL,
                updated_at = ?
            WHERE id = ?
        `), hash, changedAt, s.now(), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return apierr.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, s.q(`
            INSERT INTO password_history (user_id, password_hash, created_at)
            VALUES (?, ?, ?)
        `), id, hash, changedAt); err != nil {
			return err
		}

		if keep > 0 {
			_, err = tx.ExecContext(ctx, s.q(`
                DELETE FROM password_history
                WHERE user_id = ?
                AND id NOT IN (
                    SELECT id FROM password_history
                    WHERE user_id = ?
                    ORDER BY id DESC
                    LIMIT ?
                )
            `), id, id, keep)
		}
		return err
	})
	if apierr.KindOf(err) == apierr.KindNotFound {
		return err
	}
	return mapError("update password", err)
}

// RecentPasswordHashes returns up to limit digests, newest first. The current
// digest is included.
func (s *Store) RecentPasswordHashes(ctx context.Context, id int64, limit int) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var hashes []string
	err := s.db.SelectContext(ctx, &hashes, s.q(`
        SELECT password_hash FROM password_history
        WHERE user_id = ?
        ORDER BY id DESC
        LIMIT ?
    `), id, limit)
	if err != nil {
		return nil, mapError("password history", err)
	}
	return hashes, nil
}

// UpdateRoleOrStatus applies an administrative change and returns the
// updated account.
func (s *Store) UpdateRoleOrStatus(ctx context.Context, id int64, upd models.AccountUpdate) (*models.Account, error) {
	if upd.Role == nil && upd.Active == nil {
		return nil, apierr.Validation("nothing to update")
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, apierr.Validation("unknown role")
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	sets := []string{"updated_at = ?"}
	args := []interface{}{s.now()}
	if upd.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *upd.Role)
	}
	if upd.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *upd.Active)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return nil, mapError("update account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, mapError("update account", err)
	}
	if n == 0 {
		return nil, apierr.ErrNotFound
	}

	var a models.Account
	if err := s.db.GetContext(ctx, &a, s.q(`SELECT `+accountColumns+` FROM users WHERE id = ?`), id); err != nil {
		return nil, mapError("update account", err)
	}
	return &a, nil
}

// ListFilter narrows ListAccounts.
type ListFilter struct {
	Role       *models.Role
	ActiveOnly bool
}

// ListAccounts returns accounts ordered by id.
func (s *Store) ListAccounts(ctx context.Context, f ListFilter) ([]models.Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var (
		where []string
		args  []interface{}
	)
	if f.Role != nil {
		where = append(where, "role = ?")
		args = append(args, *f.Role)
	}
	if f.ActiveOnly {
		where = append(where, "active = ?")
		args = append(args, true)
	}

	query := `SELECT ` + accountColumns + ` FROM users`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`

	accounts := []models.Account{}
	if err := s.db.SelectContext(ctx, &accounts, s.q(query), args...); err != nil {
		return nil, mapError("list accounts", err)
	}
	return accounts, nil
}

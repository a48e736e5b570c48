package database

import (
	"context"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/models"
)

const courseColumns = `id, title, description, level, schedule, owner_id, created_at, updated_at`

func (s *Store) CreateCourse(ctx context.Context, c *models.Course) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	now := s.now()
	err := s.db.QueryRowxContext(ctx, s.q(`
        INSERT INTO courses (title, description, level, schedule, owner_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        RETURNING id
    `), c.Title, c.Description, c.Level, c.Schedule, c.OwnerID, now, now).Scan(&c.ID)
	if err != nil {
		return mapError("create course", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (s *Store) FindCourse(ctx context.Context, id int64) (*models.Course, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var c models.Course
	if err := s.db.GetContext(ctx, &c, s.q(`SELECT `+courseColumns+` FROM courses WHERE id = ?`), id); err != nil {
		return nil, mapError("find course", err)
	}
	return &c, nil
}

func (s *Store) ListCourses(ctx context.Context) ([]models.Course, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	courses := []models.Course{}
	if err := s.db.SelectContext(ctx, &courses, `SELECT `+courseColumns+` FROM courses ORDER BY id ASC`); err != nil {
		return nil, mapError("list courses", err)
	}
	return courses, nil
}

// UpdateCourse rewrites the editable fields of c. The owner never changes.
func (s *Store) UpdateCourse(ctx context.Context, c *models.Course) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q(`
        UPDATE courses SET title = ?, description = ?, level = ?, schedule = ?, updated_at = ?
        WHERE id = ?
    `), c.Title, c.Description, c.Level, c.Schedule, now, c.ID)
	if err != nil {
		return mapError("update course", err)
	}
	if err := requireRow(res, "update course"); err != nil {
		return err
	}
	c.UpdatedAt = now
	return nil
}

func (s *Store) DeleteCourse(ctx context.Context, id int64) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM courses WHERE id = ?`), id)
	if err != nil {
		return mapError("delete course", err)
	}
	return requireRow(res, "delete course")
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffected, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return apierr.ErrNotFound
	}
	return nil
}

package school

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/middleware"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/validation"
	"github.com/victorgomez09/escuela/internal/mail"
)

const (
	DefaultNotifyTimeout = 15 * time.Second

	maxTitleLength   = 200
	maxSubjectLength = 200
	maxTextLength    = 5000
	maxShortLength   = 100
)

// Store is the persistence the school service needs.
type Store interface {
	CreateCourse(ctx context.Context, c *models.Course) error
	FindCourse(ctx context.Context, id int64) (*models.Course, error)
	ListCourses(ctx context.Context) ([]models.Course, error)
	UpdateCourse(ctx context.Context, c *models.Course) error
	DeleteCourse(ctx context.Context, id int64) error

	CreateContactMessage(ctx context.Context, m *models.ContactMessage) error
	ListContactMessages(ctx context.Context, status *models.ContactStatus) ([]models.ContactMessage, error)
	UpdateContactStatus(ctx context.Context, id int64, status models.ContactStatus) (*models.ContactMessage, error)
}

type CourseInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Level       string `json:"level"`
	Schedule    string `json:"schedule"`
}

func (in *CourseInput) clean() error {
	in.Title = validation.CleanText(in.Title)
	in.Description = validation.CleanText(in.Description)
	in.Level = validation.CleanText(in.Level)
	in.Schedule = validation.CleanText(in.Schedule)

	switch {
	case in.Title == "":
		return apierr.Validation("title is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLength:
		return apierr.Validation("title is too long")
	case utf8.RuneCountInString(in.Description) > maxTextLength:
		return apierr.Validation("description is too long")
	case utf8.RuneCountInString(in.Level) > maxShortLength:
		return apierr.Validation("level is too long")
	case utf8.RuneCountInString(in.Schedule) > maxShortLength:
		return apierr.Validation("schedule is too long")
	}
	return nil
}

type ContactInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (in *ContactInput) clean() error {
	in.Name = validation.CleanText(in.Name)
	in.Email = validation.NormalizeEmail(in.Email)
	in.Subject = validation.CleanText(in.Subject)
	in.Message = validation.CleanText(in.Message)

	if err := validation.ValidateName(in.Name); err != nil {
		return err
	}
	if err := validation.ValidateEmail(in.Email); err != nil {
		return err
	}
	switch {
	case in.Subject == "":
		return apierr.Validation("subject is required")
	case utf8.RuneCountInString(in.Subject) > maxSubjectLength:
		return apierr.Validation("subject is too long")
	case in.Message == "":
		return apierr.Validation("message is required")
	case utf8.RuneCountInString(in.Message) > maxTextLength:
		return apierr.Validation("message is too long")
	}
	return nil
}

type Option func(*Service)

// WithNotifyTimeout bounds each contact notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// Service manages the course catalogue and the contact inbox.
type Service struct {
	store         Store
	mailer        mail.Sender
	logger        *zap.Logger
	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

func NewService(store Store, mailer mail.Sender, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:         store,
		mailer:        mailer,
		logger:        logger,
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close waits for pending notifications.
func (s *Service) Close() {
	s.wg.Wait()
}

func (s *Service) Courses(ctx context.Context) ([]models.Course, error) {
	return s.store.ListCourses(ctx)
}

func (s *Service) Course(ctx context.Context, id int64) (*models.Course, error) {
	return s.store.FindCourse(ctx, id)
}

// CreateCourse stores a course owned by the caller.
func (s *Service) CreateCourse(ctx context.Context, identity *middleware.Identity, in CourseInput) (*models.Course, error) {
	if err := middleware.Authorize(identity, middleware.TeacherOrAdmin); err != nil {
		return nil, err
	}
	if err := in.clean(); err != nil {
		return nil, err
	}

	c := &models.Course{
		Title:       in.Title,
		Description: in.Description,
		Level:       in.Level,
		Schedule:    in.Schedule,
		OwnerID:     identity.AccountID(),
	}
	if err := s.store.CreateCourse(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("Course created", zap.Int64("course_id", c.ID), zap.Int64("owner_id", c.OwnerID))
	return c, nil
}

// UpdateCourse edits a course. Teachers may only edit their own.
func (s *Service) UpdateCourse(ctx context.Context, identity *middleware.Identity, id int64, in CourseInput) (*models.Course, error) {
	c, err := s.ownedCourse(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if err := in.clean(); err != nil {
		return nil, err
	}

	c.Title = in.Title
	c.Description = in.Description
	c.Level = in.Level
	c.Schedule = in.Schedule
	if err := s.store.UpdateCourse(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCourse removes a course. Teachers may only delete their own.
func (s *Service) DeleteCourse(ctx context.Context, identity *middleware.Identity, id int64) error {
	if _, err := s.ownedCourse(ctx, identity, id); err != nil {
		return err
	}
	if err := s.store.DeleteCourse(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Course deleted", zap.Int64("course_id", id), zap.Int64("actor_id", identity.AccountID()))
	return nil
}

func (s *Service) ownedCourse(ctx context.Context, identity *middleware.Identity, id int64) (*models.Course, error) {
	if err := middleware.Authorize(identity, middleware.TeacherOrAdmin); err != nil {
		return nil, err
	}
	c, err := s.store.FindCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := middleware.OwnerOrAdmin(identity, c.OwnerID); err != nil {
		return nil, err
	}
	return c, nil
}

// SubmitContact stores a contact message and notifies the school in the
// background. A failed notification never fails the submission.
func (s *Service) SubmitContact(ctx context.Context, in ContactInput) (*models.ContactMessage, error) {
	if err := in.clean(); err != nil {
		return nil, err
	}

	m := &models.ContactMessage{
		Name:    in.Name,
		Email:   in.Email,
		Subject: in.Subject,
		Message: in.Message,
		Status:  models.ContactNew,
	}
	if err := s.store.CreateContactMessage(ctx, m); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.notify(*m)
	return m, nil
}

func (s *Service) notify(m models.ContactMessage) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()

	msg := mail.Message{
		ReplyTo: m.Email,
		Subject: fmt.Sprintf("Mensaje de %s: %s", m.Name, m.Subject),
		Body:    contactBody(m),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("Failed to send contact notification",
			zap.Int64("message_id", m.ID),
			zap.Error(err))
	}
}

func contactBody(m models.ContactMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Nombre: %s\n", m.Name)
	fmt.Fprintf(&b, "Email: %s\n", m.Email)
	fmt.Fprintf(&b, "Asunto: %s\n\n", m.Subject)
	b.WriteString(m.Message)
	b.WriteString("\n")
	return b.String()
}

func (s *Service) ContactMessages(ctx context.Context, status string) ([]models.ContactMessage, error) {
	if status == "" {
		return s.store.ListContactMessages(ctx, nil)
	}
	st := models.ContactStatus(strings.ToLower(status))
	if !st.Valid() {
		return nil, apierr.Validation("unknown contact status")
	}
	return s.store.ListContactMessages(ctx, &st)
}

func (s *Service) UpdateContactStatus(ctx context.Context, id int64, status string) (*models.ContactMessage, error) {
	st := models.ContactStatus(strings.ToLower(strings.TrimSpace(status)))
	if !st.Valid() {
		return nil, apierr.Validation("status must be one of new, read, answered")
	}
	return s.store.UpdateContactStatus(ctx, id, st)
}

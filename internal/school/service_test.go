package school

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/database"
	"github.com/victorgomez09/escuela/internal/auth/middleware"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/mail"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []mail.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, m mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return r.err
}

type fixture struct {
	svc    *Service
	store  *database.Store
	sender *recordingSender
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, nil))

	store := database.NewStore(db)
	sender := &recordingSender{}
	core, logs := observer.New(zap.DebugLevel)
	return &fixture{
		svc:    NewService(store, sender, zap.New(core)),
		store:  store,
		sender: sender,
		logs:   logs,
	}
}

func (f *fixture) identity(t *testing.T, email string, role models.Role) *middleware.Identity {
	t.Helper()
	a := &models.Account{
		Name:         "Docente",
		Email:        email,
		PasswordHash: "$2a$04$abcdefghijklmnopqrstuuJ6g8Rj5P0h8m1H6k3q0t3K0zq1o0b5e",
		Role:         role,
		Active:       true,
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), a))
	return &middleware.Identity{Account: *a, Role: role}
}

func TestCourseOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := f.identity(t, "owner@escuela.edu", models.RoleTeacher)
	other := f.identity(t, "other@escuela.edu", models.RoleTeacher)
	admin := f.identity(t, "admin@escuela.edu", models.RoleAdmin)
	student := f.identity(t, "student@escuela.edu", models.RoleUser)

	course, err := f.svc.CreateCourse(ctx, owner, CourseInput{
		Title:       "  <b>Matemáticas</b> ",
		Description: "Álgebra y geometría",
		Level:       "ESO",
	})
	require.NoError(t, err)
	assert.Equal(t, "Matemáticas", course.Title)
	assert.Equal(t, owner.AccountID(), course.OwnerID)

	_, err = f.svc.CreateCourse(ctx, student, CourseInput{Title: "Historia"})
	assert.ErrorIs(t, err, apierr.ErrForbidden)

	_, err = f.svc.UpdateCourse(ctx, other, course.ID, CourseInput{Title: "Robado"})
	assert.ErrorIs(t, err, apierr.ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteCourse(ctx, other, course.ID), apierr.ErrForbidden)

	updated, err := f.svc.UpdateCourse(ctx, owner, course.ID, CourseInput{Title: "Matemáticas II", Schedule: "L-X 9:00"})
	require.NoError(t, err)
	assert.Equal(t, "Matemáticas II", updated.Title)
	assert.Equal(t, owner.AccountID(), updated.OwnerID)

	_, err = f.svc.UpdateCourse(ctx, owner, course.ID, CourseInput{Title: "   "})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	courses, err := f.svc.Courses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "L-X 9:00", courses[0].Schedule)

	require.NoError(t, f.svc.DeleteCourse(ctx, admin, course.ID))
	_, err = f.svc.Course(ctx, course.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteCourse(ctx, admin, course.ID), apierr.ErrNotFound)
}

func TestSubmitContactNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.SubmitContact(ctx, ContactInput{
		Name:    "Lucía <script>x</script>",
		Email:   " Lucia@Example.COM ",
		Subject: "Matrícula",
		Message: "¿Quedan plazas?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Lucía", m.Name)
	assert.Equal(t, "lucia@example.com", m.Email)
	assert.Equal(t, models.ContactNew, m.Status)

	f.svc.Close()
	require.Len(t, f.sender.msgs, 1)
	sent := f.sender.msgs[0]
	assert.Equal(t, "Mensaje de Lucía: Matrícula", sent.Subject)
	assert.Equal(t, "lucia@example.com", sent.ReplyTo)
	assert.Contains(t, sent.Body, "¿Quedan plazas?")
}

func TestSubmitContactSurvivesMailFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")

	_, err := f.svc.SubmitContact(context.Background(), ContactInput{
		Name: "Pablo", Email: "pablo@example.com", Subject: "Hola", Message: "Buenas",
	})
	require.NoError(t, err)

	f.svc.Close()
	assert.Equal(t, 1, f.logs.FilterMessage("Failed to send contact notification").Len())
}

func TestSubmitContactRejects(t *testing.T) {
	f := newFixture(t)
	tests := []ContactInput{
		{Name: "", Email: "a@example.com", Subject: "s", Message: "m"},
		{Name: "Ana", Email: "not-an-email", Subject: "s", Message: "m"},
		{Name: "Ana", Email: "a@example.com", Subject: "", Message: "m"},
		{Name: "Ana", Email: "a@example.com", Subject: "s", Message: "<p></p>"},
	}
	for _, in := range tests {
		_, err := f.svc.SubmitContact(context.Background(), in)
		assert.ErrorIs(t, err, apierr.ErrValidation, "%+v", in)
	}
	f.svc.Close()
	assert.Empty(t, f.sender.msgs)
}

func TestContactStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.SubmitContact(ctx, ContactInput{
		Name: "Ana", Email: "ana@example.com", Subject: "Horario", Message: "¿A qué hora abre?",
	})
	require.NoError(t, err)

	updated, err := f.svc.UpdateContactStatus(ctx, m.ID, "READ")
	require.NoError(t, err)
	assert.Equal(t, models.ContactRead, updated.Status)

	_, err = f.svc.UpdateContactStatus(ctx, m.ID, "archived")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	_, err = f.svc.UpdateContactStatus(ctx, m.ID+100, "answered")
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	read, err := f.svc.ContactMessages(ctx, "read")
	require.NoError(t, err)
	assert.Len(t, read, 1)
	fresh, err := f.svc.ContactMessages(ctx, "new")
	require.NoError(t, err)
	assert.Empty(t, fresh)
	_, err = f.svc.ContactMessages(ctx, "bogus")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	f.svc.Close()
}

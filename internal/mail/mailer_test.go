package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

func TestBuildMsg(t *testing.T) {
	msg, err := buildMsg("web@school.edu", Message{
		To:      []string{"secretaria@school.edu"},
		ReplyTo: "parent@example.com",
		Subject: "Mensaje de Ana: Matricula",
		Body:    "Hola",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Mensaje de Ana: Matricula"}, msg.GetGenHeader(gomail.HeaderSubject))
	rcpts, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"secretaria@school.edu"}, rcpts)
}

func TestBuildMsg_Errors(t *testing.T) {
	_, err := buildMsg("web@school.edu", Message{Subject: "x"})
	assert.Error(t, err)

	_, err = buildMsg("not an address", Message{To: []string{"a@school.edu"}})
	assert.Error(t, err)
}

func TestNewSender_DisabledIsNoop(t *testing.T) {
	s, err := NewSender(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &NoopSender{}, s)
	assert.NoError(t, s.Send(context.Background(), Message{Subject: "x"}))
}

package mailer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestSendConfirmation(t *testing.T) {
	var sent []*gomail.Message
	m := newMailer(func(msgs ...*gomail.Message) error {
		sent = append(sent, msgs...)
		return nil
	}, "no-reply@slimtax.test", nil)

	link := "http://localhost:8090/auth/callback?token=abc123"
	require.NoError(t, m.SendConfirmation("user@example.com", link))
	require.Len(t, sent, 1)

	msg := sent[0]
	assert.Equal(t, []string{"no-reply@slimtax.test"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"user@example.com"}, msg.GetHeader("To"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "abc123")
}

func TestSendConfirmationError(t *testing.T) {
	boom := errors.New("relay down")
	m := newMailer(func(...*gomail.Message) error { return boom }, "no-reply@slimtax.test", nil)
	err := m.SendConfirmation("user@example.com", "http://localhost/auth/callback?token=x")
	assert.ErrorIs(t, err, boom)
}

package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/internal/mail"
	"authgate/internal/queue"
)

type recordingSender struct {
	to   string
	msg  mail.Rendered
	fail error
}

func (s *recordingSender) Send(_ context.Context, to string, msg mail.Rendered) error {
	s.to, s.msg = to, msg
	return s.fail
}

func entry(t *testing.T, msg mail.Message) redis.XMessage {
	t.Helper()
	values, err := msg.Values()
	require.NoError(t, err)
	return redis.XMessage{ID: "1-0", Values: values}
}

func newProcessor(t *testing.T, sender Sender) *MailProcessor {
	t.Helper()
	renderer, err := mail.NewRenderer("authgate")
	require.NoError(t, err)
	return NewMailProcessor(renderer, sender, zerolog.Nop())
}

func TestMailProcessor_Sends(t *testing.T) {
	sender := &recordingSender{}
	p := newProcessor(t, sender)

	err := p.Handle(context.Background(), entry(t, mail.Message{
		ID:        "m-1",
		Template:  mail.TemplateResetPassword,
		To:        "a@x.com",
		URL:       "https://app.example/password-change?hash=abc",
		CreatedAt: time.Now(),
	}))
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", sender.to)
	assert.Equal(t, "Password Reset Request", sender.msg.Subject)
	assert.Contains(t, sender.msg.HTML, "https://app.example/password-change?hash=abc")
}

func TestMailProcessor_UndecodableIsPermanent(t *testing.T) {
	p := newProcessor(t, &recordingSender{})

	err := p.Handle(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{"template": "x"}})
	assert.ErrorIs(t, err, queue.ErrPermanent)
}

func TestMailProcessor_SendFailureIsRetryable(t *testing.T) {
	p := newProcessor(t, &recordingSender{fail: errors.New("smtp: 421 try later")})

	err := p.Handle(context.Background(), entry(t, mail.Message{
		ID:       "m-1",
		Template: mail.TemplateActivation,
		To:       "a@x.com",
		URL:      "https://app.example/confirm-email?hash=abc",
	}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrPermanent)
}

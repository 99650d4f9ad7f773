package tasks

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authgate/internal/log"
	"authgate/internal/mail"
	"authgate/internal/queue"
)

type Renderer interface {
	Render(msg mail.Message) (mail.Rendered, error)
}

type Sender interface {
	Send(ctx context.Context, to string, msg mail.Rendered) error
}

// MailProcessor turns outbox entries into delivered mail.
type MailProcessor struct {
	renderer Renderer
	sender   Sender
	logger   zerolog.Logger
}

func NewMailProcessor(renderer Renderer, sender Sender, logger zerolog.Logger) *MailProcessor {
	return &MailProcessor{
		renderer: renderer,
		sender:   sender,
		logger:   logger,
	}
}

func (p *MailProcessor) Handle(ctx context.Context, msg redis.XMessage) error {
	m, err := mail.DecodeMessage(msg.Values)
	if err != nil {
		return fmt.Errorf("%w: decode message: %v", queue.ErrPermanent, err)
	}

	rendered, err := p.renderer.Render(m)
	if err != nil {
		return fmt.Errorf("%w: render %s: %v", queue.ErrPermanent, m.Template, err)
	}

	if err := p.sender.Send(ctx, m.To, rendered); err != nil {
		return fmt.Errorf("send %s: %w", m.Template, err)
	}

	p.logger.Info().
		Str("message_id", msg.ID).
		Str("template", string(m.Template)).
		Str("to", log.RedactEmail(m.To)).
		Msg("mail sent")
	return nil
}

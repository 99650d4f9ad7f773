package mail

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"authgate/internal/config"
)

// Outbox enqueues outbound mail on a Redis stream for the worker.
type Outbox struct {
	client   redis.Cmdable
	stream   string
	maxLen   int64
	frontend string
	now      func() time.Time
}

func NewOutbox(client redis.Cmdable, cfg config.MailConfig, frontendDomain string) *Outbox {
	return &Outbox{
		client:   client,
		stream:   cfg.Stream,
		maxLen:   cfg.MaxLen,
		frontend: strings.TrimRight(frontendDomain, "/"),
		now:      time.Now,
	}
}

func (o *Outbox) SendActivation(ctx context.Context, to, hash string) error {
	link, err := o.link("/confirm-email", url.Values{"hash": {hash}})
	if err != nil {
		return err
	}
	return o.enqueue(ctx, TemplateActivation, to, link)
}

// SendResetPassword mails the reset link; expires travels to the frontend as
// unix milliseconds.
func (o *Outbox) SendResetPassword(ctx context.Context, to, hash string, expires time.Time) error {
	link, err := o.link("/password-change", url.Values{
		"hash":    {hash},
		"expires": {strconv.FormatInt(expires.UnixMilli(), 10)},
	})
	if err != nil {
		return err
	}
	return o.enqueue(ctx, TemplateResetPassword, to, link)
}

func (o *Outbox) SendConfirmNewEmail(ctx context.Context, to, hash string) error {
	link, err := o.link("/confirm-new-email", url.Values{"hash": {hash}})
	if err != nil {
		return err
	}
	return o.enqueue(ctx, TemplateConfirmNewEmail, to, link)
}

// Trim caps the stream length. Entries already delivered are the only ones
// expected past the cap.
func (o *Outbox) Trim(ctx context.Context) (int64, error) {
	if o.maxLen <= 0 {
		return 0, nil
	}
	return o.client.XTrimMaxLenApprox(ctx, o.stream, o.maxLen, 0).Result()
}

func (o *Outbox) enqueue(ctx context.Context, tmpl Template, to, link string) error {
	msg := Message{
		ID:        uuid.NewString(),
		Template:  tmpl,
		To:        to,
		URL:       link,
		CreatedAt: o.now().UTC(),
	}
	values, err := msg.Values()
	if err != nil {
		return fmt.Errorf("encode %s mail: %w", tmpl, err)
	}

	args := &redis.XAddArgs{
		Stream: o.stream,
		Values: values,
	}
	if o.maxLen > 0 {
		args.MaxLen = o.maxLen
		args.Approx = true
	}
	if err := o.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("enqueue %s mail: %w", tmpl, err)
	}
	return nil
}

func (o *Outbox) link(path string, query url.Values) (string, error) {
	u, err := url.Parse(o.frontend + path)
	if err != nil {
		return "", fmt.Errorf("build link: %w", err)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

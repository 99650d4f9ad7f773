package mail

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Template string

const (
	TemplateActivation      Template = "activation"
	TemplateResetPassword   Template = "reset-password"
	TemplateConfirmNewEmail Template = "confirm-new-email"
)

var ErrUnknownTemplate = errors.New("unknown mail template")

func (t Template) Valid() bool {
	switch t {
	case TemplateActivation, TemplateResetPassword, TemplateConfirmNewEmail:
		return true
	}
	return false
}

// Message is one outbound mail as it travels through the stream.
type Message struct {
	ID        string    `json:"id"`
	Template  Template  `json:"template"`
	To        string    `json:"to"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	fieldTemplate = "template"
	fieldPayload  = "payload"
)

// Values encodes the message as stream entry fields.
func (m Message) Values() (map[string]any, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		fieldTemplate: string(m.Template),
		fieldPayload:  string(payload),
	}, nil
}

func DecodeMessage(values map[string]any) (Message, error) {
	raw, ok := values[fieldPayload].(string)
	if !ok {
		return Message{}, fmt.Errorf("missing %q field", fieldPayload)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("decode payload: %w", err)
	}
	if !msg.Template.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, msg.Template)
	}
	if msg.To == "" {
		return Message{}, errors.New("message has no recipient")
	}
	return msg, nil
}

package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[Template]string{
	TemplateActivation:      "Email Confirmation",
	TemplateResetPassword:   "Password Reset Request",
	TemplateConfirmNewEmail: "Confirm Your New Email Address",
}

type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type Renderer struct {
	tmpl    *template.Template
	appName string
}

func NewRenderer(appName string) (*Renderer, error) {
	tmpl, err := template.New("mail").Option("missingkey=error").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Renderer{tmpl: tmpl, appName: appName}, nil
}

func (r *Renderer) Render(msg Message) (Rendered, error) {
	subject, ok := subjects[msg.Template]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, msg.Template)
	}

	data := map[string]any{
		"Title":   subject,
		"URL":     msg.URL,
		"AppName": r.appName,
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, string(msg.Template)+".html", data); err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", msg.Template, err)
	}

	return Rendered{
		Subject: subject,
		HTML:    buf.String(),
		Text:    msg.URL + " " + subject,
	}, nil
}

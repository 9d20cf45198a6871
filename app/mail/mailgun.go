package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

type Email struct {
	Subject      string
	Body         string
	From         string
	To           []string
	Template     string
	TemplateVars map[string]any
}

type Mailer interface {
	SendMail(e *Email) error
	SendTemplatedMail(e *Email) error
}

type Mailgun struct {
	domain  string
	apiKey  string
	apiBase string
}

func NewMailer(domain, apiKey, apiBase string) *Mailgun {
	return &Mailgun{
		domain:  domain,
		apiKey:  apiKey,
		apiBase: apiBase,
	}
}

func (m *Mailgun) SendMail(e *Email) error {
	mg := mailgun.NewMailgun(m.domain, m.apiKey)
	mg.SetAPIBase(m.apiBase)

	message := mg.NewMessage(e.From, e.Subject, e.Body, e.To...)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, _, err := mg.Send(ctx, message)
	if err != nil {
		return err
	}

	return nil
}

func (m *Mailgun) SendTemplatedMail(e *Email) error {
	mg := mailgun.NewMailgun(m.domain, m.apiKey)
	mg.SetAPIBase(m.apiBase)

	message := mg.NewMessage(e.From, e.Subject, "", e.To...)
	message.SetTemplate(e.Template)

	if e.TemplateVars != nil {
		for k, v := range e.TemplateVars {
			message.AddTemplateVariable(k, v)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	_, _, err := mg.Send(ctx, message)
	if err != nil {
		return err
	}

	return nil
}

// NewInviteEmail builds the invitation mail. The link lands on the auth
// callback which exchanges the one-time code for a session.
func NewInviteEmail(domain, siteURL, recipient, code string) *Email {
	return &Email{
		Subject:  "Userdesk - You have been invited",
		From:     fmt.Sprintf("Userdesk <no-reply@%s>", domain),
		To:       []string{recipient},
		Template: "invite-user",
		TemplateVars: map[string]any{
			"inviteLink": fmt.Sprintf("%s/api/auth/callback?code=%s&type=invite", siteURL, code),
		},
	}
}

// NewResetEmail builds the password recovery mail.
func NewResetEmail(domain, siteURL, recipient, code string) *Email {
	return &Email{
		Subject:  "Userdesk - Password reset",
		From:     fmt.Sprintf("Userdesk <no-reply@%s>", domain),
		To:       []string{recipient},
		Template: "reset-password",
		TemplateVars: map[string]any{
			"resetLink": fmt.Sprintf("%s/api/auth/callback?code=%s&type=recovery", siteURL, code),
		},
	}
}

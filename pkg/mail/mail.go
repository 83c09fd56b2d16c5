package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/dkalashnik/openwrite/pkg/config"
)

var (
	ErrNotConfigured = errors.New("mail: smtp host is not configured")
	ErrInvalidEmail  = errors.New("mail: invalid recipient address")
)

const submissionSubject = "Here's a copy of your OpenWrite submission!"

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers submission copies over SMTP.
type Mailer struct {
	cfg  config.MailConfig
	send SendFunc
}

func New(cfg config.MailConfig) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail}
}

// NewWithSender is used by tests to capture outgoing messages.
func NewWithSender(cfg config.MailConfig, send SendFunc) *Mailer {
	return &Mailer{cfg: cfg, send: send}
}

type submissionEmail struct {
	Prompt     string
	Paragraphs []string
}

var submissionTpl = template.Must(template.New("submission").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Georgia, serif; color: #222;">
<h2>Your OpenWrite submission</h2>
<p><strong>Prompt:</strong> {{.Prompt}}</p>
<hr>
{{range .Paragraphs}}<p>{{.}}</p>
{{else}}<p><em>(empty)</em></p>
{{end}}<hr>
<p style="color: #888;">Come back tomorrow for a new prompt.</p>
</body>
</html>
`))

// RenderSubmission renders the HTML body of a submission copy. User text is escaped.
func RenderSubmission(prompt, text string) (string, error) {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	var buf bytes.Buffer
	err := submissionTpl.Execute(&buf, submissionEmail{Prompt: prompt, Paragraphs: paragraphs})
	if err != nil {
		return "", fmt.Errorf("render submission email: %w", err)
	}
	return buf.String(), nil
}

// SendSubmission emails a copy of a submission to recipient.
func (m *Mailer) SendSubmission(ctx context.Context, recipient, prompt, text string) error {
	if m.cfg.Host == "" {
		return ErrNotConfigured
	}
	to, err := netmail.ParseAddress(recipient)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	from, err := netmail.ParseAddress(m.cfg.From)
	if err != nil {
		return fmt.Errorf("mail: invalid sender %q: %w", m.cfg.From, err)
	}
	body, err := RenderSubmission(prompt, text)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(from, to, submissionSubject, body, time.Now())
	port := m.cfg.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(addr, auth, from.Address, []string{to.Address}, msg); err != nil {
		log.Printf("[SendSubmission] Failed to send copy to %s via %s: %v", to.Address, addr, err)
		return fmt.Errorf("mail: send to %s: %w", to.Address, err)
	}
	log.Printf("[SendSubmission] Sent submission copy to %s", to.Address)
	return nil
}

func buildMessage(from, to *netmail.Address, subject, htmlBody string, at time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	return []byte(b.String())
}

// Package mailer delivers templated transactional mail. Its only caller
// in the consent flow is the cross-participant verification email.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
	"sync"
)

// Sender delivers one templated message to one recipient.
type Sender interface {
	SendTemplate(ctx context.Context, to, template string, vars map[string]string) error
}

// Templates known to the consent flow.
const TemplateConsentVerification = "consent-verification"

var templateBodies = map[string]string{
	TemplateConsentVerification: "Please confirm your consent request by following this link: {{link}}\n" +
		"The link expires in 24 hours. If you did not request this, ignore this message.",
}

var templateSubjects = map[string]string{
	TemplateConsentVerification: "Confirm your data exchange consent",
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	addr string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP constructs an SMTP-backed sender. addr is host:port of the relay.
func NewSMTP(addr, from string) *SMTPSender {
	return &SMTPSender{addr: addr, from: from, send: smtp.SendMail}
}

func (s *SMTPSender) SendTemplate(_ context.Context, to, template string, vars map[string]string) error {
	body, ok := templateBodies[template]
	if !ok {
		return fmt.Errorf("unknown mail template %q", template)
	}
	for key, value := range vars {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.from, to, templateSubjects[template], body)
	if err := s.send(s.addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Recorder captures sent mail in memory for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []RecordedMail
}

// RecordedMail is one captured send.
type RecordedMail struct {
	To       string
	Template string
	Vars     map[string]string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendTemplate(_ context.Context, to, template string, vars map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	r.sent = append(r.sent, RecordedMail{To: to, Template: template, Vars: copied})
	return nil
}

// Sent returns the captured mail in send order.
func (r *Recorder) Sent() []RecordedMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedMail(nil), r.sent...)
}

// TemplateNames lists the known templates, sorted. Reported in the startup
// log so operators can see the mail surface of the build.
func TemplateNames() []string {
	names := make([]string, 0, len(templateBodies))
	for name := range templateBodies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*Recorder)(nil)
)

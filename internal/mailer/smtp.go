package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	texttemplate "text/template"
	"time"

	"github.com/utafrali/authservice/pkg/logger"
)

const (
	fromName     = "Auth System"
	resetSubject = "Password Reset Request"
	dialTimeout  = 10 * time.Second
)

var htmlBody = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #333;">Password Reset Request</h2>
  <p>You requested a password reset for your account.</p>
  <p>Click the link below to reset your password (valid for {{.Validity}}):</p>
  <a href="{{.URL}}" style="display: inline-block; padding: 12px 24px; background-color: #007bff; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0;">Reset Password</a>
  <p>Or copy and paste this URL into your browser:</p>
  <p style="color: #666; word-break: break-all;">{{.URL}}</p>
  <p style="color: #999; font-size: 12px; margin-top: 30px;">If you didn't request this password reset, please ignore this email.</p>
</div>
`))

var textBody = texttemplate.Must(texttemplate.New("reset.txt").Parse(`Password Reset Request

You requested a password reset for your account.
Open the link below to reset your password (valid for {{.Validity}}):

{{.URL}}

If you didn't request this password reset, please ignore this email.
`))

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ResetValidity is shown to the user, e.g. "10 minutes".
	ResetValidity time.Duration
}

// SMTPSender sends reset emails through an SMTP relay, upgrading to TLS with
// STARTTLS when the server offers it.
type SMTPSender struct {
	cfg     SMTPConfig
	from    mail.Address
	logger  *slog.Logger
	deliver func(ctx context.Context, from, to string, msg []byte) error
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) (*SMTPSender, error) {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse sender address: %w", err)
	}
	if cfg.ResetValidity <= 0 {
		cfg.ResetValidity = 10 * time.Minute
	}

	s := &SMTPSender{
		cfg:    cfg,
		from:   mail.Address{Name: fromName, Address: addr.Address},
		logger: logger,
	}
	s.deliver = s.sendMail
	return s, nil
}

// SendPasswordReset renders and sends the reset email.
func (s *SMTPSender) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("parse recipient address: %w", err)
	}

	msg, err := s.render(rcpt, resetURL)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := s.deliver(ctx, s.from.Address, rcpt.Address, msg); err != nil {
		return fmt.Errorf("send password reset email: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset email sent",
		slog.String("to", logger.MaskEmail(rcpt.Address)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

type resetView struct {
	URL      string
	Validity string
}

// render builds a multipart/alternative message with plain-text and HTML parts.
func (s *SMTPSender) render(to *mail.Address, resetURL string) ([]byte, error) {
	view := resetView{URL: resetURL, Validity: humanDuration(s.cfg.ResetValidity)}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	var head bytes.Buffer
	fmt.Fprintf(&head, "From: %s\r\n", s.from.String())
	fmt.Fprintf(&head, "To: %s\r\n", to.String())
	fmt.Fprintf(&head, "Subject: %s\r\n", resetSubject)
	fmt.Fprintf(&head, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	head.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&head, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	for _, part := range []struct {
		contentType string
		execute     func(*bytes.Buffer) error
	}{
		{"text/plain; charset=UTF-8", func(b *bytes.Buffer) error { return textBody.Execute(b, view) }},
		{"text/html; charset=UTF-8", func(b *bytes.Buffer) error { return htmlBody.Execute(b, view) }},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create message part: %w", err)
		}
		var body bytes.Buffer
		if err := part.execute(&body); err != nil {
			return nil, fmt.Errorf("render message part: %w", err)
		}
		if _, err := w.Write(body.Bytes()); err != nil {
			return nil, fmt.Errorf("write message part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}

	return append(head.Bytes(), buf.Bytes()...), nil
}

// sendMail is smtp.SendMail with a context-aware dial and an overall deadline.
func (s *SMTPSender) sendMail(ctx context.Context, from, to string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return c.Quit()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

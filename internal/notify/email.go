package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/api/schemas"
	"github.com/dverhoef/scanwarden/internal/config"
	"github.com/dverhoef/scanwarden/internal/report"
)

// EmailChannel delivers the report over SMTP as a multipart/alternative
// message carrying both the text and HTML projections.
type EmailChannel struct {
	cfg    config.EmailConfig
	markup schemas.TemplateRenderer
	log    *zap.Logger
}

// NewEmailChannel creates the channel. markup may be nil; the HTML part then
// falls back to the escaped text listing.
func NewEmailChannel(cfg config.EmailConfig, markup schemas.TemplateRenderer, logger *zap.Logger) *EmailChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailChannel{cfg: cfg, markup: markup, log: logger.Named("email")}
}

// Name implements schemas.Channel.
func (e *EmailChannel) Name() string { return "email" }

// Send connects to the SMTP host, authenticates when credentials are
// configured, and submits the message. The connection is released on every
// path.
func (e *EmailChannel) Send(ctx context.Context, rep *schemas.AggregateReport) error {
	if len(e.cfg.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	msg, err := e.buildMessage(rep)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprintf("%d", e.cfg.Port))
	client, err := e.connect(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("smtp MAIL failed: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT %q failed: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message body: %w", err)
	}
	return client.Quit()
}

// connect dials the SMTP host. STARTTLS upgrades a plain connection; with
// STARTTLS disabled the connection is implicit TLS from the first byte. The
// channel deadline covers the dial, the handshake and every subsequent SMTP
// command, so a server that accepts and stalls cannot hang Send.
func (e *EmailChannel) connect(ctx context.Context, addr string) (*smtp.Client, error) {
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline && e.cfg.Timeout > 0 {
		deadline = time.Now().Add(e.cfg.Timeout)
		hasDeadline = true
	}

	dialer := &net.Dialer{}
	if hasDeadline {
		dialer.Deadline = deadline
	}

	tlsCfg := &tls.Config{ServerName: e.cfg.Host, MinVersion: tls.VersionTLS12}

	if e.cfg.StartTLS {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial smtp host: %w", err)
		}
		if hasDeadline {
			conn.SetDeadline(deadline)
		}
		client, err := smtp.NewClient(conn, e.cfg.Host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp handshake failed: %w", err)
		}
		if err := client.StartTLS(tlsCfg); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls failed: %w", err)
		}
		return client, nil
	}

	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial smtp host over tls: %w", err)
	}
	if hasDeadline {
		conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake failed: %w", err)
	}
	return client, nil
}

// buildMessage assembles the multipart/alternative RFC 5322 message.
func (e *EmailChannel) buildMessage(rep *schemas.AggregateReport) ([]byte, error) {
	renderer := report.New(rep)

	textBody := renderer.ToText()
	htmlBody, err := renderer.ToHTML(e.markup, "")
	if err != nil {
		return nil, fmt.Errorf("failed to render message markup: %w", err)
	}

	subjectRepo := rep.Repo
	if subjectRepo == "" {
		subjectRepo = "scan"
	}
	subject := fmt.Sprintf("[scanwarden] %s: %d finding(s)", subjectRepo, rep.Summary.Total)

	boundary := "scanwarden-" + rep.ScanID

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(textBody, "\n", "\r\n"))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String()), nil
}

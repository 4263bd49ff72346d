package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// DeliveryError reports a failed notification. Temporary errors are worth
// retrying.
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}

// SMTPConfig describes the relay notifications are sent through.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Hostname string
	// StartTLS upgrades the connection when the relay advertises it.
	StartTLS bool
	Timeout  time.Duration
}

// SMTPNotifier sends owner notifications through an SMTP relay.
type SMTPNotifier struct {
	cfg    SMTPConfig
	signer *Signer
	logger *slog.Logger
	now    func() time.Time
}

func NewSMTPNotifier(cfg SMTPConfig, signer *Signer, logger *slog.Logger) *SMTPNotifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	return &SMTPNotifier{cfg: cfg, signer: signer, logger: logger, now: time.Now}
}

// NotifyLead renders the notice and delivers it to the campaign owner.
func (n *SMTPNotifier) NotifyLead(ctx context.Context, notice LeadNotice) error {
	if notice.OwnerEmail == "" {
		return nil
	}

	rendered, err := Render(notice)
	if err != nil {
		return err
	}

	msg, err := buildMessage(n.cfg.From, notice.OwnerEmail, rendered, n.now())
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if n.signer != nil {
		signed, err := n.signer.Sign(msg)
		if err != nil {
			n.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", n.signer.Domain(),
				"error", err,
			)
		} else {
			msg = signed
		}
	}

	if err := n.send(ctx, notice.OwnerEmail, msg); err != nil {
		return err
	}

	n.logger.Info("lead notification sent",
		"campaign", notice.CampaignName,
		"to", notice.OwnerEmail,
	)
	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, to string, data []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	dialer := &net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(n.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("SMTP client creation failed: %v", err),
		}
	}
	defer client.Close()

	if err := client.Hello(n.cfg.Hostname); err != nil {
		return categorizeError(err, "HELO")
	}

	if n.cfg.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName: n.cfg.Host,
				MinVersion: tls.VersionTLS12,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return categorizeError(err, "STARTTLS")
			}
		}
	}

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return categorizeError(err, "AUTH")
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(to); err != nil {
		return categorizeError(err, fmt.Sprintf("RCPT TO %s", to))
	}

	wc, err := client.Data()
	if err != nil {
		return categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return categorizeError(err, "DATA close")
	}

	client.Quit()
	return nil
}

func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	matches := smtpCodePattern.FindStringSubmatch(err.Error())
	if len(matches) > 1 && strings.HasPrefix(matches[1], "5") {
		return &DeliveryError{Temporary: false, Message: msg}
	}
	return &DeliveryError{Temporary: true, Message: msg}
}

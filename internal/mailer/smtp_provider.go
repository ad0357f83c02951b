package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// SMTPProvider implements EmailProvider over the standard SMTP protocol.
// Supports STARTTLS (587) and direct TLS (465).
type SMTPProvider struct {
	Config SMTPConfig
}

// NewSMTPProvider validates the configuration (SSRF + address checks)
// before returning a usable provider.
func NewSMTPProvider(config SMTPConfig) (*SMTPProvider, error) {
	if err := ValidateSMTPConfig(config.Host, config.Port); err != nil {
		return nil, fmt.Errorf("invalid SMTP configuration: %w", err)
	}
	if _, err := sanitizeEmailAddress(fmt.Sprintf("%s <%s>", config.FromName, config.From)); err != nil {
		return nil, fmt.Errorf("invalid From address: %w", err)
	}
	return &SMTPProvider{Config: config}, nil
}

// Send delivers an email via SMTP.
//
// Host and port are re-validated on every send, not just at construction,
// to catch a hostname that re-resolves to a private address after the
// initial check (DNS rebinding).
func (p *SMTPProvider) Send(ctx context.Context, payload EmailPayload) (string, error) {
	logger := slog.With("template", payload.Template, "request_id", payload.RequestID)

	if !ValidTemplates[payload.Template] {
		logger.Warn("unknown email template rejected")
		return "", fmt.Errorf("unknown email template")
	}

	if err := ValidateSMTPConfig(p.Config.Host, p.Config.Port); err != nil {
		logger.Error("SSRF attempt blocked", "host", p.Config.Host, "error", err)
		return "", fmt.Errorf("SMTP configuration failed validation")
	}

	toAddr, err := sanitizeEmailAddress(payload.To)
	if err != nil {
		logger.Warn("invalid recipient address", "error", err)
		return "", fmt.Errorf("invalid recipient address")
	}

	fromAddr, err := sanitizeEmailAddress(fmt.Sprintf("%s <%s>", p.Config.FromName, p.Config.From))
	if err != nil {
		logger.Error("invalid From address in config", "error", err)
		return "", fmt.Errorf("SMTP configuration error")
	}

	message, err := p.buildMessage(fromAddr, toAddr, payload)
	if err != nil {
		return "", fmt.Errorf("build email message: %w", err)
	}

	serverAddr := fmt.Sprintf("%s:%d", p.Config.Host, p.Config.Port)
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var conn net.Conn
	if p.Config.TLSMode == "tls" {
		tlsConfig := &tls.Config{ServerName: p.Config.Host, MinVersion: tls.VersionTLS12}
		conn, err = tls.DialWithDialer(dialer, "tcp", serverAddr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", serverAddr)
	}
	if err != nil {
		logger.Error("SMTP connect failed", "host", p.Config.Host, "error", err)
		return "", fmt.Errorf("SMTP connection failed")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, p.Config.Host)
	if err != nil {
		logger.Error("SMTP client init failed", "error", err)
		return "", fmt.Errorf("SMTP protocol error")
	}
	defer client.Quit()

	if p.Config.TLSMode == "starttls" {
		tlsConfig := &tls.Config{ServerName: p.Config.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			logger.Error("STARTTLS failed", "error", err)
			return "", fmt.Errorf("SMTP TLS upgrade failed")
		}
	}

	auth := smtp.PlainAuth("", p.Config.User, p.Config.Password, p.Config.Host)
	if err := client.Auth(auth); err != nil {
		logger.Error("SMTP authentication failed", "user", p.Config.User, "error", err)
		return "", fmt.Errorf("SMTP authentication failed")
	}

	if err := client.Mail(fromAddr); err != nil {
		return "", fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	if err := client.Rcpt(toAddr); err != nil {
		return "", fmt.Errorf("SMTP RCPT command failed: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		return "", fmt.Errorf("write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize email: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", payload.RequestID, p.Config.Host)
	logger.Info("email sent", "to_hash", HashRecipient(payload.To), "message_id", messageID)
	return messageID, nil
}

func (p *SMTPProvider) buildMessage(from, to string, payload EmailPayload) ([]byte, error) {
	messageID := fmt.Sprintf("<%s@%s>", payload.RequestID, p.Config.Host)

	headers := map[string]string{
		"From":         from,
		"To":           to,
		"Subject":      p.getSubject(payload.Template),
		"Message-ID":   messageID,
		"Date":         time.Now().Format(time.RFC1123Z),
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}

	var msg strings.Builder
	for k, v := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, v)
	}
	msg.WriteString("\r\n")
	msg.WriteString(p.buildBody(payload))

	return []byte(msg.String()), nil
}

func (p *SMTPProvider) getSubject(template EmailTemplate) string {
	switch template {
	case TemplateInvitation:
		return "You've been invited"
	case TemplatePasswordReset:
		return "Reset your password"
	case TemplateMFAReset:
		return "MFA account recovery"
	default:
		return "Notification"
	}
}

func (p *SMTPProvider) buildBody(payload EmailPayload) string {
	userName, _ := payload.Data["user_name"].(string)
	userName = html.EscapeString(userName)

	switch payload.Template {
	case TemplatePasswordReset:
		link, _ := payload.Data["link"].(string)
		return passwordResetBody(userName, link)
	case TemplateMFAReset:
		link, _ := payload.Data["link"].(string)
		return mfaResetBody(userName, link)
	case TemplateInvitation:
		link, _ := payload.Data["link"].(string)
		invitedBy, _ := payload.Data["invited_by"].(string)
		return invitationBody(userName, html.EscapeString(invitedBy), link)
	default:
		return "<html><body><p>This is a notification from the system.</p></body></html>"
	}
}

// sanitizeEmailAddress validates an address via net/mail and rejects
// CRLF injection in either the address or display name.
func sanitizeEmailAddress(addr string) (string, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(parsed.Address, "\r\n") {
		return "", fmt.Errorf("CRLF injection detected in email address")
	}
	if strings.ContainsAny(parsed.Name, "\r\n") {
		return "", fmt.Errorf("CRLF injection detected in display name")
	}
	return parsed.String(), nil
}

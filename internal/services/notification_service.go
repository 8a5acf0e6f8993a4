package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"

	"deskflow/internal/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
	ChannelTeams = "teams"
)

// Notification 一条出站通知
type Notification struct {
	Channel   string `json:"channel"` // email, slack, teams
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
}

// Notifier delivers notifications to an external transport. Delivery failure
// is returned as an error; callers record it and never treat it as fatal.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationService 出站通知服务（SMTP 邮件 + Slack/Teams webhook）
type NotificationService struct {
	cfg        config.NotificationsConfig
	logger     *logrus.Logger
	httpClient *http.Client
}

func NewNotificationService(cfg config.NotificationsConfig, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Slack.Timeout
	if cfg.Teams.Timeout > timeout {
		timeout = cfg.Teams.Timeout
	}
	return &NotificationService{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send routes the notification to the channel's transport.
func (s *NotificationService) Send(ctx context.Context, n Notification) error {
	switch strings.ToLower(n.Channel) {
	case ChannelEmail:
		return s.sendEmail(n)
	case ChannelSlack:
		return s.postWebhook(ctx, s.cfg.Slack, map[string]interface{}{"text": s.slackText(n)})
	case ChannelTeams:
		return s.postWebhook(ctx, s.cfg.Teams, map[string]interface{}{
			"@type": "MessageCard",
			"title": n.Subject,
			"text":  n.Message,
		})
	default:
		return fmt.Errorf("unsupported notification channel: %s", n.Channel)
	}
}

func (s *NotificationService) slackText(n Notification) string {
	if n.Subject == "" {
		return n.Message
	}
	return fmt.Sprintf("*%s*\n%s", n.Subject, n.Message)
}

func (s *NotificationService) sendEmail(n Notification) error {
	if !s.cfg.Email.Enabled {
		return fmt.Errorf("email transport disabled")
	}
	if n.Recipient == "" {
		return fmt.Errorf("email recipient required")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Email.SMTPHost, s.cfg.Email.SMTPPort)
	var auth smtp.Auth
	if s.cfg.Email.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Email.Username, s.cfg.Email.Password, s.cfg.Email.SMTPHost)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.cfg.Email.From, n.Recipient, n.Subject, n.Message)

	if err := smtp.SendMail(addr, auth, s.cfg.Email.From, []string{n.Recipient}, []byte(msg)); err != nil {
		s.logger.Warnf("notification: smtp send to %s failed: %v", n.Recipient, err)
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *NotificationService) postWebhook(ctx context.Context, cfg config.WebhookConfig, payload map[string]interface{}) error {
	if !cfg.Enabled || cfg.WebhookURL == "" {
		return fmt.Errorf("webhook transport disabled")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

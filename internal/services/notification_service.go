// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/fanvault-backend/internal/config"
	"github.com/javajoker/fanvault-backend/internal/models"
	"github.com/javajoker/fanvault-backend/internal/repository"
)

// Notification types
const (
	NoticePaymentApproved       = "payment_approved"
	NoticePaymentReceived       = "payment_received"
	NoticePaymentDeclined       = "payment_declined"
	NoticePaymentRefunded       = "payment_refunded"
	NoticeRefundDeducted        = "refund_deducted"
	NoticeSubscriptionSuspended = "subscription_suspended"
)

// Notice is one user-facing message about a settlement outcome.
type Notice struct {
	UserID       uuid.UUID
	Type         string
	Title        string
	Message      string
	ResourceType string
	ResourceID   *uuid.UUID
	Data         map[string]interface{}
}

// Notifier delivers notices without blocking the caller. Delivery failures
// are logged and never reach the ledger.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type NotificationService struct {
	store  repository.Store
	config *config.Config
	wg     sync.WaitGroup

	sendMail func(to, subject, body string) error
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(store repository.Store, config *config.Config) *NotificationService {
	s := &NotificationService{
		store:  store,
		config: config,
	}
	s.sendMail = s.sendEmail
	return s
}

func (s *NotificationService) Notify(ctx context.Context, n Notice) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(context.WithoutCancel(ctx), n)
	}()
}

// Wait blocks until every notice handed to Notify has been delivered.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) deliver(ctx context.Context, n Notice) {
	logger := logrus.WithFields(logrus.Fields{
		"user_id": n.UserID,
		"type":    n.Type,
	})

	notification := &models.UserNotification{
		UserID:              n.UserID,
		Type:                n.Type,
		Title:               n.Title,
		Message:             n.Message,
		Status:              "unread",
		RelatedResourceType: n.ResourceType,
		RelatedResourceID:   n.ResourceID,
	}
	if err := s.store.CreateUserNotification(ctx, notification); err != nil {
		logger.WithError(err).Error("Failed to store notification")
	}

	tmpl, ok := s.getEmailTemplate(n.Type)
	if !ok {
		return
	}
	user, err := s.store.GetUser(ctx, n.UserID)
	if err != nil {
		logger.WithError(err).Warn("Skipping email, user lookup failed")
		return
	}
	if user.Email == "" {
		return
	}

	data := map[string]interface{}{
		"Username":     user.Username,
		"Title":        n.Title,
		"Message":      n.Message,
		"DashboardURL": fmt.Sprintf("%s/wallet", s.config.Frontend.BaseURL),
		"PlatformName": "FanVault",
	}
	for k, v := range n.Data {
		data[k] = v
	}

	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		logger.WithError(err).Error("Failed to render email template")
		return
	}
	if err := s.sendMail(user.Email, tmpl.Subject, body); err != nil {
		logger.WithError(err).Error("Failed to send notification email")
	}
}

func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		// Email not configured, just log
		logrus.WithFields(logrus.Fields{"to": to, "subject": subject}).Debug("Email delivery disabled")
		return nil
	}

	// Setup authentication
	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	// Compose message
	msg := []byte(fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		s.config.Email.FromName, s.config.Email.FromEmail, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(noticeType string) (EmailTemplate, bool) {
	templates := map[string]EmailTemplate{
		NoticePaymentApproved: {
			Subject: "Payment confirmed",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Title}}</h2>
	<p>Hello {{.Username}},</p>
	<p>{{.Message}}</p>
	<a href="{{.DashboardURL}}">View your wallet</a>
	<p>Best regards,<br>{{.PlatformName}} Team</p>
</body>
</html>`,
		},
		NoticePaymentReceived: {
			Subject: "You received a payment",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Title}}</h2>
	<p>Hello {{.Username}},</p>
	<p>{{.Message}}</p>
	<a href="{{.DashboardURL}}">View your earnings</a>
	<p>Best regards,<br>{{.PlatformName}} Team</p>
</body>
</html>`,
		},
		NoticePaymentRefunded: {
			Subject: "Payment refunded",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Title}}</h2>
	<p>Hello {{.Username}},</p>
	<p>{{.Message}}</p>
	<p>Best regards,<br>{{.PlatformName}} Team</p>
</body>
</html>`,
		},
	}

	tmpl, ok := templates[noticeType]
	return tmpl, ok
}

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/mailgun/mailgun-go/v4"
)

// EmailService sends operator alerts via Mailgun
type EmailService struct {
	mg        *mailgun.MailgunImpl
	fromEmail string
	fromName  string
	to        string
	loc       *time.Location
}

var _ Notifier = (*EmailService)(nil)

// NewEmailService creates a new email service with Mailgun configuration
func NewEmailService(domain, apiKey, fromEmail, alertEmail string) *EmailService {
	mg := mailgun.NewMailgun(domain, apiKey)
	mg.SetAPIBase(mailgun.APIBaseEU) // Use EU endpoint for GDPR compliance

	return &EmailService{
		mg:        mg,
		fromEmail: fromEmail,
		fromName:  "Outline VPN bot",
		to:        alertEmail,
		loc:       time.Local,
	}
}

// SetAPIBase points the client at another Mailgun endpoint
func (s *EmailService) SetAPIBase(url string) {
	s.mg.SetAPIBase(url)
}

// SetLocation sets the zone used to print dates
func (s *EmailService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// NotifyKeyCreated mails a short notice about a key created by a standard actor
func (s *EmailService) NotifyKeyCreated(ctx context.Context, actor *models.Actor, key *models.AccessKey) error {
	who := fmt.Sprintf("%d", actor.ID)
	if name := actor.DisplayName(); name != "" {
		who = fmt.Sprintf("%s (%d)", name, actor.ID)
	}
	subject := fmt.Sprintf("New Outline key: %s", key.Name)
	body := fmt.Sprintf("%s created key %q (id %s) at %s.\n", who, key.Name, key.ID,
		key.CreatedAt.In(s.loc).Format("02.01.2006 15:04"))
	return s.send(ctx, subject, body)
}

// NotifyExpiring mails a digest of expired and expiring keys
func (s *EmailService) NotifyExpiring(ctx context.Context, alerts []ExpiryAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.send(ctx, fmt.Sprintf("Outline keys: %d payment reminders", len(alerts)), s.expiryDigest(alerts))
}

func (s *EmailService) expiryDigest(alerts []ExpiryAlert) string {
	var b strings.Builder
	b.WriteString("Payment status of Outline keys:\n\n")
	for _, a := range alerts {
		date := "-"
		if a.Key.ExpiresAt != nil {
			date = a.Key.ExpiresAt.In(s.loc).Format(ExpiryDateLayout)
		}
		status := fmt.Sprintf("%d days left", a.DaysLeft)
		if a.Expired {
			status = "EXPIRED"
		}
		fmt.Fprintf(&b, "- %s (id %s, owner %s): %s, %s\n", a.Key.Name, a.Key.ID, a.Owner, date, status)
	}
	return b.String()
}

func (s *EmailService) send(ctx context.Context, subject, text string) error {
	message := s.mg.NewMessage(
		fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail),
		subject,
		text,
		s.to,
	)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	if _, _, err := s.mg.Send(ctxWithTimeout, message); err != nil {
		return fmt.Errorf("failed to send alert email to %s: %w", s.to, err)
	}
	return nil
}

// Package mail provides outbound notification delivery. Invitations are
// fire-and-forget: delivery failure never fails the request that sent them.
package mail

import (
	"context"

	"github.com/know-me-server/internal/logging"
)

// Mailer sends notification mail
type Mailer interface {
	// SendAccessorInvite notifies an email address that owner invited them
	// to access their content
	SendAccessorInvite(ctx context.Context, toEmail, ownerUserID string) error
}

// LogMailer writes outbound mail to the log instead of delivering it. Used in
// development and as the default until an SMTP provider is wired in.
type LogMailer struct{}

// NewLogMailer creates a log-only mailer
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// SendAccessorInvite logs the invitation
func (m *LogMailer) SendAccessorInvite(ctx context.Context, toEmail, ownerUserID string) error {
	logging.FromContext(ctx).
		WithField("to", toEmail).
		WithField("owner_user_id", ownerUserID).
		Info("accessor invitation mail")
	return nil
}

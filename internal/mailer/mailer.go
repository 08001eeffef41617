// Package mailer defines the outbound-email contract this service triggers
// but never transports itself — SMTP/provider delivery is an external
// collaborator per the spec's scope. The only implementation here logs the
// triggers; a production deployment wires a real provider client behind
// the same interface.
package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Mailer is the trigger surface the auth orchestrator calls into. Every
// method must never block or fail the caller's business operation —
// implementations log and swallow their own transport errors.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, verificationToken string)
	SendPasswordResetEmail(ctx context.Context, to, resetToken string)
	SendPasswordChangedNotice(ctx context.Context, to string)
	SendNewDeviceAlert(ctx context.Context, to, deviceName, ip string)
	SendAccountLockedNotice(ctx context.Context, to string, until string)
	SendOrderConfirmation(ctx context.Context, to string, orderID int64)
}

// LoggingMailer is the only Mailer implementation this module ships: it
// records every trigger at info level and never returns an error, matching
// the spec's "email dispatch failures must never fail the originating
// business operation" propagation rule by construction.
type LoggingMailer struct {
	logger *zap.Logger
}

// NewLoggingMailer builds a LoggingMailer over the given logger.
func NewLoggingMailer(logger *zap.Logger) *LoggingMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingMailer{logger: logger}
}

var _ Mailer = (*LoggingMailer)(nil)

func (m *LoggingMailer) SendVerificationEmail(_ context.Context, to, verificationToken string) {
	m.logger.Info("email.verification_requested", zap.String("to", to), zap.String("token", verificationToken))
}

func (m *LoggingMailer) SendPasswordResetEmail(_ context.Context, to, resetToken string) {
	m.logger.Info("email.password_reset_requested", zap.String("to", to), zap.String("token", resetToken))
}

func (m *LoggingMailer) SendPasswordChangedNotice(_ context.Context, to string) {
	m.logger.Info("email.password_changed", zap.String("to", to))
}

func (m *LoggingMailer) SendNewDeviceAlert(_ context.Context, to, deviceName, ip string) {
	m.logger.Info("email.new_device_alert", zap.String("to", to), zap.String("device", deviceName), zap.String("ip", ip))
}

func (m *LoggingMailer) SendAccountLockedNotice(_ context.Context, to string, until string) {
	m.logger.Info("email.account_locked", zap.String("to", to), zap.String("until", until))
}

func (m *LoggingMailer) SendOrderConfirmation(_ context.Context, to string, orderID int64) {
	m.logger.Info("email.order_confirmation", zap.String("to", to), zap.Int64("orderId", orderID))
}

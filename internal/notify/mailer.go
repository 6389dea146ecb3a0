package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Message is a customer notification queued for delivery.
type Message struct {
	To       string
	Template string
	Subject  string
	Data     map[string]any
}

// Templates used by the order and subscription lifecycle.
const (
	TemplateOrderConfirmation  = "order_confirmation"
	TemplateOrderRefunded      = "order_refunded"
	TemplateOrderCancelled     = "order_cancelled"
	TemplateRenewalFailed      = "subscription_renewal_failed"
	TemplateRenewalNotice      = "subscription_renewal_notice"
	TemplateSubscriptionEnded  = "subscription_cancelled"
	TemplateFulfillmentShipped = "fulfillment_shipped"
)

// Mailer delivers customer notifications. Delivery is best effort; callers log
// and continue on failure.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes notifications to the structured log instead of delivering
// them. It stands in for a real delivery backend in development and tests.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the notification.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if m == nil {
		return errors.New("notify: mailer is nil")
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("notify: recipient is required")
	}
	if strings.TrimSpace(msg.Template) == "" {
		return errors.New("notify: template is required")
	}
	m.logger.Info("notification queued",
		zap.String("template", msg.Template),
		zap.String("subject", msg.Subject),
		zap.Any("data", msg.Data),
	)
	return nil
}

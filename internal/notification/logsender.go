package notification

import (
	"context"
	"log"

	"matchpulse/internal/model"
)

// LogSender is a development transport that logs instead of sending.
// It implements both the SMS and email sender interfaces.
type LogSender struct{}

// NewLogSender creates a log-based transport.
func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) SendSMS(ctx context.Context, toE164, body string) (model.DeliveryStatus, error) {
	log.Printf("[notify] sms to %s: %s", toE164, body)
	return model.DeliveryOK, nil
}

func (s *LogSender) SendEmail(ctx context.Context, to, subject, body string) (model.DeliveryStatus, error) {
	log.Printf("[notify] email to %s: %s", to, subject)
	return model.DeliveryOK, nil
}

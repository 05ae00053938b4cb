package model

import (
	"context"
	"time"
)

// ── Storage and delivery port interfaces ──
// These decouple the engine from concrete implementations (SQLite store,
// SMS/email transports, broadcast hub, Redis mirror).

// Contact is the delivery addressing for a user, read via the alert→user
// join when an alert carries SMS or EMAIL channels.
type Contact struct {
	UserID int64
	Phone  string // E.164
	Email  string
}

// AlertStore is the relational persistence required by the core: active
// alerts, the append-only trigger log, trigger counters and custom
// metrics.
type AlertStore interface {
	// ActiveAlerts reads all alerts with active=true.
	ActiveAlerts(ctx context.Context) ([]Alert, error)

	// AppendTrigger durably persists a trigger record before dispatch and
	// fills in its assigned ID.
	AppendTrigger(ctx context.Context, rec *TriggerRecord) error

	// UpdateTriggerOutcome records per-channel results after fan-out.
	UpdateTriggerOutcome(ctx context.Context, rec *TriggerRecord) error

	// BumpTriggerCounters increments trigger_count and sets
	// last_triggered_at for the alert.
	BumpTriggerCounters(ctx context.Context, alertID int64, at time.Time) error

	// CustomMetricsByOwner reads a user's stored formulas.
	CustomMetricsByOwner(ctx context.Context, userID int64) ([]CustomMetric, error)

	// CreateCustomMetric validates nothing itself; callers validate the
	// formula first. Fills in the assigned ID.
	CreateCustomMetric(ctx context.Context, cm *CustomMetric) error

	// UserContact resolves phone/email for channel delivery.
	UserContact(ctx context.Context, userID int64) (Contact, error)

	// Close releases underlying resources.
	Close() error
}

// DeliveryStatus is the outcome class of a channel delivery attempt.
type DeliveryStatus int

const (
	DeliveryOK DeliveryStatus = iota
	DeliveryTransient
	DeliveryPermanent
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryOK:
		return "ok"
	case DeliveryTransient:
		return "transient"
	case DeliveryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// SMSSender is the SMS transport adapter. Body must be ≤320 chars; the
// dispatcher formats and truncates before calling.
type SMSSender interface {
	SendSMS(ctx context.Context, toE164, body string) (DeliveryStatus, error)
}

// EmailSender is the email transport adapter.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (DeliveryStatus, error)
}

// Publisher pushes broadcast messages toward real-time subscribers.
// Implementations are best-effort and must never block the caller.
type Publisher interface {
	Publish(ctx context.Context, msg Message)
}

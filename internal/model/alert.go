package model

import (
	"encoding/json"
	"time"
)

// Priority orders alerts for display; it does not affect evaluation.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// ChannelKind names a delivery channel an alert can fan out to.
type ChannelKind string

const (
	ChannelSMS       ChannelKind = "SMS"
	ChannelEmail     ChannelKind = "EMAIL"
	ChannelWebSocket ChannelKind = "WEBSOCKET"
)

// DefaultCooldown applies when an alert does not set its own cooldown.
const DefaultCooldown = 300 * time.Second

// Alert is a user-owned trigger specification. The expression is kept in
// its serialized form here; the condition package parses it into an
// evaluable tree.
type Alert struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// FixtureID scopes the alert to one fixture; empty matches all live
	// fixtures.
	FixtureID string `json:"fixture_id,omitempty"`

	ExpressionJSON  json.RawMessage `json:"expression"`
	Channels        []ChannelKind   `json:"channels"`
	Priority        Priority        `json:"priority"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	Active          bool            `json:"active"`

	TriggerCount    int64     `json:"trigger_count"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Cooldown returns the alert's cooldown duration, falling back to the
// default when unset.
func (a *Alert) Cooldown() time.Duration {
	if a.CooldownSeconds <= 0 {
		return DefaultCooldown
	}
	return time.Duration(a.CooldownSeconds) * time.Second
}

// HasChannel reports whether the alert fans out to the given channel.
func (a *Alert) HasChannel(k ChannelKind) bool {
	for _, c := range a.Channels {
		if c == k {
			return true
		}
	}
	return false
}

// TriggerRecord is the append-only audit record of a dispatched trigger.
// It is persisted before any channel delivery is attempted so a crash
// cannot double-send, then updated with per-channel outcomes.
type TriggerRecord struct {
	ID                int64           `json:"id"`
	AlertID           int64           `json:"alert_id"`
	FixtureID         string          `json:"fixture_id"`
	TriggeredAt       time.Time       `json:"triggered_at"`
	MetricSnapshot    json.RawMessage `json:"metric_snapshot,omitempty"`
	ChannelsAttempted []ChannelKind   `json:"channels_attempted,omitempty"`
	ChannelsSucceeded []ChannelKind   `json:"channels_succeeded,omitempty"`
}

// CustomMetric is a user-owned formula over the metric vector. The
// formula text is validated at creation and re-validated on every
// evaluation; the parsed form is never persisted.
type CustomMetric struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Formula   string    `json:"formula"`
	CreatedAt time.Time `json:"created_at"`
}

package model

import (
	"encoding/json"
	"time"
)

// Broadcast message types exposed to real-time subscribers.
const (
	MsgAlertTriggered  = "alert_triggered"
	MsgMatchUpdate     = "match_update"
	MsgPatternDetected = "pattern_detected"
	MsgSystemStatus    = "system_status"
)

// Message is the envelope published to the broadcast hub and mirrored to
// Redis pub/sub. UserID scopes delivery to one user's subscribers; zero
// means broadcast to everyone.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    int64           `json:"user_id,omitempty"`
}

// NewMessage marshals data into a broadcast envelope. Marshal failures
// cannot happen for the engine's own payload types; on the off chance a
// payload is unmarshalable the envelope carries null data.
func NewMessage(msgType string, data interface{}) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("null")
	}
	return Message{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage is NewMessage scoped to a single user.
func NewUserMessage(msgType string, userID int64, data interface{}) Message {
	m := NewMessage(msgType, data)
	m.UserID = userID
	return m
}

// JSON returns the wire encoding of the envelope.
func (m Message) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}

// AlertTriggeredPayload is the data block of an alert_triggered message.
type AlertTriggeredPayload struct {
	AlertID   int64  `json:"alert_id"`
	AlertName string `json:"alert_name"`
	FixtureID string `json:"fixture_id"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeGoals int    `json:"home_goals"`
	AwayGoals int    `json:"away_goals"`
	Elapsed   int    `json:"elapsed"`
	Condition string `json:"condition"`
	Priority  string `json:"priority"`
}

package model

// EventType classifies an engine event derived from snapshot diffs.
type EventType string

const (
	EventGoal    EventType = "GOAL"
	EventYellow  EventType = "YELLOW"
	EventRed     EventType = "RED"
	EventSub     EventType = "SUB"
	EventCorner  EventType = "CORNER"
	EventShotOn  EventType = "SHOT_ON"
	EventShotOff EventType = "SHOT_OFF"
	EventVAR     EventType = "VAR"
)

// IsCard reports whether the event is a booking of either color.
func (t EventType) IsCard() bool {
	return t == EventYellow || t == EventRed
}

// Event is an append-only match event produced by diffing consecutive
// snapshots' raw event lists. The last EVENT_BUFFER_SIZE events per
// fixture are retained in the ring.
type Event struct {
	FixtureID string    `json:"fixture_id"`
	Minute    int       `json:"minute"`
	Type      EventType `json:"type"`
	Team      Side      `json:"team"`
	PlayerID  string    `json:"player_id,omitempty"`
}

// mapRawType normalizes provider event type strings to engine EventTypes.
var rawTypeMap = map[string]EventType{
	"GOAL":     EventGoal,
	"YELLOW":   EventYellow,
	"RED":      EventRed,
	"SUB":      EventSub,
	"CORNER":   EventCorner,
	"SHOT_ON":  EventShotOn,
	"SHOT_OFF": EventShotOff,
	"VAR":      EventVAR,
}

// EventFromRaw converts a raw provider event into an engine Event.
// Returns false for event types the engine does not track.
func EventFromRaw(fixtureID string, raw RawEvent) (Event, bool) {
	t, ok := rawTypeMap[raw.Type]
	if !ok {
		return Event{}, false
	}
	return Event{
		FixtureID: fixtureID,
		Minute:    raw.Minute,
		Type:      t,
		Team:      raw.Team,
		PlayerID:  raw.PlayerID,
	}, true
}

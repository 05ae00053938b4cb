package model

import "time"

// PatternKind labels an automatically detected structure in the event
// stream.
type PatternKind string

const (
	PatternGoalSequence    PatternKind = "GOAL_SEQUENCE"
	PatternCardSequence    PatternKind = "CARD_SEQUENCE"
	PatternPossessionSwing PatternKind = "POSSESSION_SWING"
	PatternMomentumShift   PatternKind = "MOMENTUM_SHIFT"
	PatternPressureBuildup PatternKind = "PRESSURE_BUILDUP"
	PatternTimeBased       PatternKind = "TIME_BASED"
)

// PatternKinds enumerates all detectable kinds.
var PatternKinds = []PatternKind{
	PatternGoalSequence,
	PatternCardSequence,
	PatternPossessionSwing,
	PatternMomentumShift,
	PatternPressureBuildup,
	PatternTimeBased,
}

// Severity classifies how significant a detected pattern is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Pattern is a detected game pattern. Emitted once per contiguous span:
// the same kind does not re-emit for a fixture until its criteria stop
// holding and later hold again.
type Pattern struct {
	ID         string      `json:"id"`
	FixtureID  string      `json:"fixture_id"`
	Kind       PatternKind `json:"kind"`
	Team       Side        `json:"team,omitempty"` // empty for match-wide patterns
	Severity   Severity    `json:"severity"`
	Confidence float64     `json:"confidence"` // [0,1]
	StartedAt  int         `json:"started_at"` // match minute
	EndedAt    int         `json:"ended_at"`   // match minute
	DetectedAt time.Time   `json:"detected_at"`
	Evidence   []Event     `json:"evidence,omitempty"`
}

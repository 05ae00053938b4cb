// Package model defines the core domain types shared across the alert
// engine: fixtures, snapshots, events, alerts, patterns and the metric
// vector consumed by all evaluators. It also declares the storage and
// delivery port interfaces that decouple the engine from concrete
// implementations (SQLite, Redis, SMS/email transports).
package model

import "time"

// Status is the lifecycle state of a fixture as reported upstream.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusLive1H    Status = "LIVE_1H"
	StatusHalftime  Status = "HT"
	StatusLive2H    Status = "LIVE_2H"
	StatusExtraTime Status = "ET"
	StatusPenalties Status = "PEN"
	StatusFinished  Status = "FINISHED"
	StatusPostponed Status = "POSTPONED"
)

// InPlay reports whether the match clock is running or paused mid-match.
func (s Status) InPlay() bool {
	switch s {
	case StatusLive1H, StatusHalftime, StatusLive2H, StatusExtraTime, StatusPenalties:
		return true
	}
	return false
}

// Evaluable reports whether alerts should run against this fixture.
// Scheduled fixtures are never evaluated.
func (s Status) Evaluable() bool {
	return s != StatusScheduled && s != ""
}

// Side identifies a team within a fixture.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideHome {
		return SideAway
	}
	return SideHome
}

// Fixture is a scheduled or in-progress match, identified by the stable
// upstream fixture id. Mutated only by the ingestion pipeline.
type Fixture struct {
	ID        string    `json:"id"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	League    string    `json:"league"`
	Venue     string    `json:"venue,omitempty"`
	Referee   string    `json:"referee,omitempty"`
	KickoffAt time.Time `json:"kickoff_at"`
	Status    Status    `json:"status"`
	Elapsed   int       `json:"elapsed"` // minutes
	HomeGoals int       `json:"home_goals"`
	AwayGoals int       `json:"away_goals"`
}

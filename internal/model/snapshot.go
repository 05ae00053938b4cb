package model

import "time"

// TeamStats holds the per-team statistics block of a snapshot. Counts
// missing upstream are normalized to 0; possession defaults to 50.
type TeamStats struct {
	Possession    float64 `json:"possession"` // percent, 0-100
	Shots         int     `json:"shots"`
	ShotsOnTarget int     `json:"shots_on_target"`
	Corners       int     `json:"corners"`
	Fouls         int     `json:"fouls"`
	YellowCards   int     `json:"yellow_cards"`
	RedCards      int     `json:"red_cards"`
	Offsides      int     `json:"offsides"`
	Passes        int     `json:"passes"`
	PassAccuracy  float64 `json:"pass_accuracy"` // percent, 0-100
	Tackles       int     `json:"tackles"`
	Clearances    int     `json:"clearances"`
	Saves         int     `json:"saves"`
	Interceptions int     `json:"interceptions"`

	// XG is the provider-supplied expected goals; XGProvided is false when
	// the provider omitted it and the extractor must derive a value.
	XG         float64 `json:"xg,omitempty"`
	XGProvided bool    `json:"xg_provided,omitempty"`
}

// PlayerStats holds per-player statistics keyed by the upstream player id.
type PlayerStats struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name,omitempty"`
	Team     Side    `json:"team"`
	Goals    int     `json:"goals"`
	Assists  int     `json:"assists"`
	Cards    int     `json:"cards"`
	Shots    int     `json:"shots"`
	Passes   int     `json:"passes"`
	Tackles  int     `json:"tackles"`
	Rating   float64 `json:"rating"`
	Minutes  int     `json:"minutes"`
}

// Weather is the optional match-conditions block.
type Weather struct {
	Description string  `json:"description,omitempty"`
	TempC       float64 `json:"temp_c,omitempty"`
	WindKph     float64 `json:"wind_kph,omitempty"`
}

// Lineups is the optional starting-eleven block.
type Lineups struct {
	HomeFormation string   `json:"home_formation,omitempty"`
	AwayFormation string   `json:"away_formation,omitempty"`
	HomeStarters  []string `json:"home_starters,omitempty"` // player ids
	AwayStarters  []string `json:"away_starters,omitempty"`
}

// RawEvent is a provider event as reported upstream, before diffing into
// the engine's Event stream. Distance/Angle are shot geometry hints used
// by the xG heuristic; zero means unknown.
type RawEvent struct {
	Minute   int     `json:"minute"`
	Type     string  `json:"type"`
	Team     Side    `json:"team"`
	PlayerID string  `json:"player_id,omitempty"`
	Detail   string  `json:"detail,omitempty"`
	Distance float64 `json:"distance,omitempty"` // meters from goal
	Angle    float64 `json:"angle,omitempty"`    // degrees to goal center
}

// Snapshot is an immutable point-in-time observation of a fixture.
// Produced by ingestion, replaced atomically in the store, never mutated
// in place.
type Snapshot struct {
	Fixture    Fixture                `json:"fixture"`
	Home       TeamStats              `json:"home"`
	Away       TeamStats              `json:"away"`
	Players    map[string]PlayerStats `json:"players,omitempty"`
	Weather    *Weather               `json:"weather,omitempty"`
	Lineups    *Lineups               `json:"lineups,omitempty"`
	RawEvents  []RawEvent             `json:"raw_events,omitempty"` // since kickoff
	ObservedAt time.Time              `json:"observed_at"`
}

// Team returns the stats block for the given side.
func (s *Snapshot) Team(side Side) *TeamStats {
	if side == SideHome {
		return &s.Home
	}
	return &s.Away
}

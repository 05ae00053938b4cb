package upstream

import (
	"time"

	"matchpulse/internal/model"
)

// Provider wire shapes. The provider reports short status codes and a
// nested score object; normalization maps them onto the internal model.

type fixtureListResponse struct {
	Fixtures []wireFixture `json:"fixtures"`
}

type wireFixture struct {
	FixtureID string `json:"fixture_id"`
	Home      string `json:"home"`
	Away      string `json:"away"`
	League    string `json:"league"`
	Venue     string `json:"venue"`
	Referee   string `json:"referee"`
	Kickoff   string `json:"kickoff"` // RFC3339
	Status    string `json:"status"`  // NS,1H,HT,2H,ET,P,FT,PST
	Minute    int    `json:"minute"`
	Score     struct {
		Home int `json:"home"`
		Away int `json:"away"`
	} `json:"score"`
}

type statsResponse struct {
	FixtureID string                   `json:"fixture_id"`
	Teams     map[string]wireTeamStats `json:"teams"` // keyed "home"/"away"
	Players   []wirePlayer             `json:"players"`
	XG        *struct {
		Home float64 `json:"home"`
		Away float64 `json:"away"`
	} `json:"xg"`
	Weather *struct {
		Description string  `json:"description"`
		TempC       float64 `json:"temp_c"`
		WindKph     float64 `json:"wind_kph"`
	} `json:"weather"`
}

type wireTeamStats struct {
	Possession    *float64 `json:"possession"`
	Shots         *int     `json:"shots"`
	ShotsOnTarget *int     `json:"shots_on_target"`
	Corners       *int     `json:"corners"`
	Fouls         *int     `json:"fouls"`
	YellowCards   *int     `json:"yellow_cards"`
	RedCards      *int     `json:"red_cards"`
	Offsides      *int     `json:"offsides"`
	Passes        *int     `json:"passes"`
	PassAccuracy  *float64 `json:"pass_accuracy"`
	Tackles       *int     `json:"tackles"`
	Clearances    *int     `json:"clearances"`
	Saves         *int     `json:"saves"`
	Interceptions *int     `json:"interceptions"`
}

type wirePlayer struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name"`
	Team     string  `json:"team"`
	Goals    int     `json:"goals"`
	Assists  int     `json:"assists"`
	Yellow   int     `json:"yellow_cards"`
	Red      int     `json:"red_cards"`
	Shots    int     `json:"shots"`
	Passes   int     `json:"passes"`
	Tackles  int     `json:"tackles"`
	Rating   float64 `json:"rating"`
	Minutes  int     `json:"minutes"`
}

type eventsResponse struct {
	Events []wireEvent `json:"events"`
}

type wireEvent struct {
	Minute   int     `json:"minute"`
	Type     string  `json:"type"`
	Team     string  `json:"team"`
	PlayerID string  `json:"player_id"`
	Detail   string  `json:"detail"`
	Distance float64 `json:"distance"`
	Angle    float64 `json:"angle"`
}

type lineupsResponse struct {
	Home wireLineup `json:"home"`
	Away wireLineup `json:"away"`
}

type wireLineup struct {
	Formation string   `json:"formation"`
	Starters  []string `json:"starters"`
}

// StatsResult is the normalized statistics payload for one fixture.
type StatsResult struct {
	Home    model.TeamStats
	Away    model.TeamStats
	Players map[string]model.PlayerStats
	Weather *model.Weather
}

var statusMap = map[string]model.Status{
	"NS":   model.StatusScheduled,
	"TBD":  model.StatusScheduled,
	"1H":   model.StatusLive1H,
	"HT":   model.StatusHalftime,
	"2H":   model.StatusLive2H,
	"ET":   model.StatusExtraTime,
	"P":    model.StatusPenalties,
	"FT":   model.StatusFinished,
	"AET":  model.StatusFinished,
	"PEN":  model.StatusFinished,
	"PST":  model.StatusPostponed,
	"CANC": model.StatusPostponed,
}

func normalizeStatus(s string) model.Status {
	if st, ok := statusMap[s]; ok {
		return st
	}
	return model.StatusScheduled
}

func normalizeSide(s string) model.Side {
	if s == "away" {
		return model.SideAway
	}
	return model.SideHome
}

func normalizeFixtures(wire []wireFixture) []model.Fixture {
	out := make([]model.Fixture, 0, len(wire))
	for _, w := range wire {
		kickoff, _ := time.Parse(time.RFC3339, w.Kickoff)
		out = append(out, model.Fixture{
			ID:        w.FixtureID,
			HomeTeam:  w.Home,
			AwayTeam:  w.Away,
			League:    w.League,
			Venue:     w.Venue,
			Referee:   w.Referee,
			KickoffAt: kickoff,
			Status:    normalizeStatus(w.Status),
			Elapsed:   w.Minute,
			HomeGoals: w.Score.Home,
			AwayGoals: w.Score.Away,
		})
	}
	return out
}

// normalizeTeamStats applies the missing-field policy: counts default to
// 0, possession to 50.
func normalizeTeamStats(w wireTeamStats) model.TeamStats {
	ts := model.TeamStats{Possession: 50}
	if w.Possession != nil {
		ts.Possession = *w.Possession
	}
	if w.Shots != nil {
		ts.Shots = *w.Shots
	}
	if w.ShotsOnTarget != nil {
		ts.ShotsOnTarget = *w.ShotsOnTarget
	}
	if w.Corners != nil {
		ts.Corners = *w.Corners
	}
	if w.Fouls != nil {
		ts.Fouls = *w.Fouls
	}
	if w.YellowCards != nil {
		ts.YellowCards = *w.YellowCards
	}
	if w.RedCards != nil {
		ts.RedCards = *w.RedCards
	}
	if w.Offsides != nil {
		ts.Offsides = *w.Offsides
	}
	if w.Passes != nil {
		ts.Passes = *w.Passes
	}
	if w.PassAccuracy != nil {
		ts.PassAccuracy = *w.PassAccuracy
	}
	if w.Tackles != nil {
		ts.Tackles = *w.Tackles
	}
	if w.Clearances != nil {
		ts.Clearances = *w.Clearances
	}
	if w.Saves != nil {
		ts.Saves = *w.Saves
	}
	if w.Interceptions != nil {
		ts.Interceptions = *w.Interceptions
	}
	return ts
}

func normalizeStats(resp *statsResponse) *StatsResult {
	res := &StatsResult{
		Home:    normalizeTeamStats(resp.Teams["home"]),
		Away:    normalizeTeamStats(resp.Teams["away"]),
		Players: make(map[string]model.PlayerStats, len(resp.Players)),
	}
	if resp.XG != nil {
		res.Home.XG, res.Home.XGProvided = resp.XG.Home, true
		res.Away.XG, res.Away.XGProvided = resp.XG.Away, true
	}
	if resp.Weather != nil {
		res.Weather = &model.Weather{
			Description: resp.Weather.Description,
			TempC:       resp.Weather.TempC,
			WindKph:     resp.Weather.WindKph,
		}
	}
	for _, p := range resp.Players {
		res.Players[p.PlayerID] = model.PlayerStats{
			PlayerID: p.PlayerID,
			Name:     p.Name,
			Team:     normalizeSide(p.Team),
			Goals:    p.Goals,
			Assists:  p.Assists,
			Cards:    p.Yellow + p.Red,
			Shots:    p.Shots,
			Passes:   p.Passes,
			Tackles:  p.Tackles,
			Rating:   p.Rating,
			Minutes:  p.Minutes,
		}
	}
	return res
}

func normalizeEvents(wire []wireEvent) []model.RawEvent {
	out := make([]model.RawEvent, 0, len(wire))
	for _, w := range wire {
		out = append(out, model.RawEvent{
			Minute:   w.Minute,
			Type:     w.Type,
			Team:     normalizeSide(w.Team),
			PlayerID: w.PlayerID,
			Detail:   w.Detail,
			Distance: w.Distance,
			Angle:    w.Angle,
		})
	}
	return out
}

func normalizeLineups(resp *lineupsResponse) *model.Lineups {
	return &model.Lineups{
		HomeFormation: resp.Home.Formation,
		AwayFormation: resp.Away.Formation,
		HomeStarters:  resp.Home.Starters,
		AwayStarters:  resp.Away.Starters,
	}
}

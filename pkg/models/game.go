package models

import "time"

// GameStatus represents the current state of a game
type GameStatus string

const (
	StatusScheduled  GameStatus = "scheduled"
	StatusInProgress GameStatus = "in_progress"
	StatusFinal      GameStatus = "final"
	StatusPostponed  GameStatus = "postponed"
	StatusCancelled  GameStatus = "cancelled"
)

// Game is the game record handed to the engine by the surrounding application
type Game struct {
	GameID       string     `json:"game_id"`
	SportKey     string     `json:"sport_key"` // "baseball_mlb"
	Status       GameStatus `json:"status"`
	HomeTeam     string     `json:"home_team"` // Full team name
	HomeTeamID   string     `json:"home_team_id,omitempty"`
	AwayTeam     string     `json:"away_team"`
	AwayTeamID   string     `json:"away_team_id,omitempty"`
	HomeScore    *int       `json:"home_score"` // nil until reported
	AwayScore    *int       `json:"away_score"`
	CommenceTime time.Time  `json:"commence_time"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FinalScore is only present once a game reaches a terminal state
type FinalScore struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Total returns the combined score
func (s FinalScore) Total() int {
	return s.Home + s.Away
}

// IsFinal reports whether the game has a usable final score
func (g *Game) IsFinal() bool {
	return g.Status == StatusFinal && g.HomeScore != nil && g.AwayScore != nil
}

// HomeIdentifiers returns every string that identifies the home team
func (g *Game) HomeIdentifiers() []string {
	return identifiers(g.HomeTeam, g.HomeTeamID)
}

// AwayIdentifiers returns every string that identifies the away team
func (g *Game) AwayIdentifiers() []string {
	return identifiers(g.AwayTeam, g.AwayTeamID)
}

func identifiers(name, id string) []string {
	ids := make([]string, 0, 2)
	if name != "" {
		ids = append(ids, name)
	}
	if id != "" && id != name {
		ids = append(ids, id)
	}
	return ids
}

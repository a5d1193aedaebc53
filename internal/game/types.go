package game

import (
	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

const (
	MinPlayers     = 2
	MaxPlayers     = 10
	MinPointsToWin = 1
	MaxPointsToWin = 20
	MaxGameMode    = 30
	MaxUsername    = 24
	HandSize       = 7

	DefaultGameMode    = "classic"
	DefaultMaxPlayers  = 8
	DefaultPointsToWin = 7

	baseAICap = 3
	byokAICap = 5
)

type Settings struct {
	GameMode    string `json:"gameMode"`
	MaxPlayers  int    `json:"maxPlayers"`
	PointsToWin int    `json:"pointsToWin"`
}

// PlayerView is a seated player with its display name resolved. The hand is
// reduced to its size; use Manager.GetHand for the cards themselves.
type PlayerView struct {
	store.Player
	// Hand shadows the embedded hand and is never set.
	Hand     []uuid.UUID `json:"hand,omitempty"`
	HandSize int         `json:"handSize"`
	Name     string      `json:"name"`
	Emoji    string      `json:"emoji,omitempty"`
}

type RoundState struct {
	Round   *store.Round `json:"round"`
	Prompt  *store.Card  `json:"prompt"`
	Pending []uuid.UUID  `json:"pendingPlayerIds"`
}

// State is the full picture of a game pushed to watchers.
type State struct {
	Game    *store.Game  `json:"game"`
	Players []PlayerView `json:"players"`
	Current *RoundState  `json:"currentRound,omitempty"`
}

type SubmissionView struct {
	store.Submission
	// Text is the card text for card submissions.
	Text string `json:"text"`
}

// Lobby is an open game that still has seats.
type Lobby struct {
	store.Game
	Players int    `json:"players"`
	Host    string `json:"host"`
}

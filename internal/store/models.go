package store

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type GameStatus string

const (
	GameLobby    GameStatus = "lobby"
	GamePlaying  GameStatus = "playing"
	GameFinished GameStatus = "finished"
)

type RoundStatus string

const (
	RoundSubmitting RoundStatus = "submitting"
	RoundJudging    RoundStatus = "judging"
	RoundComplete   RoundStatus = "complete"
)

type CardType string

const (
	CardPrompt   CardType = "prompt"
	CardResponse CardType = "response"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Username    string    `bun:"username,notnull" json:"username"`
	GamesPlayed int       `bun:"games_played,notnull,default:0" json:"gamesPlayed"`
	GamesWon    int       `bun:"games_won,notnull,default:0" json:"gamesWon"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

type Card struct {
	bun.BaseModel `bun:"table:cards,alias:c"`

	ID   uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Type CardType  `bun:"type,notnull" json:"type"`
	Text string    `bun:"text,notnull" json:"text"`
	Pack string    `bun:"pack,notnull,default:'base'" json:"pack"`
}

type Game struct {
	bun.BaseModel `bun:"table:games,alias:g"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Status       GameStatus `bun:"status,notnull" json:"status"`
	GameMode     string     `bun:"game_mode,notnull" json:"gameMode"`
	MaxPlayers   int        `bun:"max_players,notnull" json:"maxPlayers"`
	PointsToWin  int        `bun:"points_to_win,notnull" json:"pointsToWin"`
	CurrentRound int        `bun:"current_round,notnull,default:0" json:"currentRound"`
	HostID       uuid.UUID  `bun:"host_id,type:uuid,notnull" json:"hostId"`
	InviteCode   string     `bun:"invite_code,notnull,unique" json:"inviteCode"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

type Player struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID        uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	GameID    uuid.UUID   `bun:"game_id,type:uuid,notnull" json:"gameId"`
	UserID    *uuid.UUID  `bun:"user_id,type:uuid" json:"userId,omitempty"`
	PersonaID string      `bun:"persona_id" json:"personaId,omitempty"`
	IsAI      bool        `bun:"is_ai,notnull" json:"isAI"`
	Score     int         `bun:"score,notnull,default:0" json:"score"`
	IsJudge   bool        `bun:"is_judge,notnull" json:"isJudge"`
	Hand      []uuid.UUID `bun:"hand,type:jsonb,notnull" json:"hand"`
	Seat      int         `bun:"seat,notnull" json:"seat"`
	JoinedAt  time.Time   `bun:"joined_at,nullzero,notnull,default:current_timestamp" json:"joinedAt"`
}

type Round struct {
	bun.BaseModel `bun:"table:rounds,alias:r"`

	ID             uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	GameID         uuid.UUID   `bun:"game_id,type:uuid,notnull" json:"gameId"`
	Number         int         `bun:"number,notnull" json:"number"`
	PromptCardID   uuid.UUID   `bun:"prompt_card_id,type:uuid,notnull" json:"promptCardId"`
	JudgePlayerID  uuid.UUID   `bun:"judge_player_id,type:uuid,notnull" json:"judgePlayerId"`
	WinnerPlayerID *uuid.UUID  `bun:"winner_player_id,type:uuid" json:"winnerPlayerId,omitempty"`
	Status         RoundStatus `bun:"status,notnull" json:"status"`
	CreatedAt      time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

// Submission carries either a card from the player's hand or free text.
type Submission struct {
	bun.BaseModel `bun:"table:submissions,alias:s"`

	ID        uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	RoundID   uuid.UUID  `bun:"round_id,type:uuid,notnull" json:"roundId"`
	PlayerID  uuid.UUID  `bun:"player_id,type:uuid,notnull" json:"playerId"`
	CardID    *uuid.UUID `bun:"card_id,type:uuid" json:"cardId,omitempty"`
	Text      string     `bun:"text" json:"text,omitempty"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

type CustomPersona struct {
	bun.BaseModel `bun:"table:custom_personas,alias:cp"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	CreatorID    uuid.UUID `bun:"creator_id,type:uuid,notnull" json:"creatorId"`
	Name         string    `bun:"name,notnull" json:"name"`
	Personality  string    `bun:"personality,notnull" json:"personality"`
	SystemPrompt string    `bun:"system_prompt,notnull" json:"systemPrompt"`
	Temperature  float64   `bun:"temperature,notnull" json:"temperature"`
	Emoji        string    `bun:"emoji,notnull" json:"emoji"`
	Public       bool      `bun:"public,notnull" json:"public"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
}

type ResponsePool struct {
	bun.BaseModel `bun:"table:response_pools,alias:rp"`

	ID         uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	PromptText string    `bun:"prompt_text,notnull" json:"promptText"`
	PersonaID  string    `bun:"persona_id,notnull" json:"personaId"`
	Responses  []string  `bun:"responses,type:jsonb,notnull" json:"responses"`
}

type APIKey struct {
	bun.BaseModel `bun:"table:api_keys,alias:k"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID       uuid.UUID  `bun:"user_id,type:uuid,notnull" json:"userId"`
	Provider     string     `bun:"provider,notnull" json:"provider"`
	EncryptedKey string     `bun:"encrypted_key,notnull" json:"-"`
	Hint         string     `bun:"hint,notnull" json:"hint"`
	Valid        bool       `bun:"valid,notnull" json:"valid"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	LastUsedAt   *time.Time `bun:"last_used_at" json:"lastUsedAt,omitempty"`
	LastError    string     `bun:"last_error" json:"lastError,omitempty"`
	LastErrorAt  *time.Time `bun:"last_error_at" json:"lastErrorAt,omitempty"`
}

// NonJudges returns the players that submit this round.
func NonJudges(players []Player) []Player {
	out := make([]Player, 0, len(players))
	for _, p := range players {
		if !p.IsJudge {
			out = append(out, p)
		}
	}
	return out
}

// HasCard reports whether the card is in the player's hand.
func (p *Player) HasCard(id uuid.UUID) bool {
	return slices.Contains(p.Hand, id)
}

// RemoveCard drops the card from the hand without mutating the backing array.
func (p *Player) RemoveCard(id uuid.UUID) {
	p.Hand = slices.DeleteFunc(slices.Clone(p.Hand), func(c uuid.UUID) bool { return c == id })
}

// Package store defines the persistence boundary. Every entry point runs its
// reads and writes inside one transaction obtained from Store.RunInTx.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

type Store interface {
	// RunInTx commits when fn returns nil and rolls back otherwise.
	// Transactions do not nest.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

type Tx interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	InsertCards(ctx context.Context, cards []Card) error
	GetCard(ctx context.Context, id uuid.UUID) (*Card, error)
	ListCards(ctx context.Context, typ CardType) ([]Card, error)

	CreateGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id uuid.UUID) (*Game, error)
	GetGameByCode(ctx context.Context, code string) (*Game, error)
	UpdateGame(ctx context.Context, g *Game) error
	// ListGames returns games in status, newest first.
	ListGames(ctx context.Context, status GameStatus) ([]Game, error)

	AddPlayer(ctx context.Context, p *Player) error
	GetPlayer(ctx context.Context, id uuid.UUID) (*Player, error)
	// ListPlayers returns players ordered by seat.
	ListPlayers(ctx context.Context, gameID uuid.UUID) ([]Player, error)
	UpdatePlayer(ctx context.Context, p *Player) error

	CreateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, id uuid.UUID) (*Round, error)
	GetRoundByNumber(ctx context.Context, gameID uuid.UUID, number int) (*Round, error)
	// ListRounds returns rounds ordered by number.
	ListRounds(ctx context.Context, gameID uuid.UUID) ([]Round, error)
	UpdateRound(ctx context.Context, r *Round) error

	CreateSubmission(ctx context.Context, s *Submission) error
	// ListSubmissions returns submissions in creation order.
	ListSubmissions(ctx context.Context, roundID uuid.UUID) ([]Submission, error)

	CreatePersona(ctx context.Context, p *CustomPersona) error
	GetPersona(ctx context.Context, id uuid.UUID) (*CustomPersona, error)
	UpdatePersona(ctx context.Context, p *CustomPersona) error
	DeletePersona(ctx context.Context, id uuid.UUID) error
	ListPersonasByCreator(ctx context.Context, creatorID uuid.UUID) ([]CustomPersona, error)
	ListPublicPersonas(ctx context.Context) ([]CustomPersona, error)

	GetPool(ctx context.Context, promptText, personaID string) (*ResponsePool, error)
	CreatePool(ctx context.Context, p *ResponsePool) error
	UpdatePool(ctx context.Context, p *ResponsePool) error

	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKey(ctx context.Context, id uuid.UUID) (*APIKey, error)
	FindAPIKey(ctx context.Context, userID uuid.UUID, provider string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]APIKey, error)
	UpdateAPIKey(ctx context.Context, k *APIKey) error
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
}

// View runs fn in a transaction and returns its result.
func View[T any](ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = fn(ctx, tx)
		return err
	})
	return out, err
}

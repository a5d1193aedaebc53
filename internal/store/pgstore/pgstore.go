// Package pgstore implements store.Store on Postgres with bun.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/kiliankoe/ai-against-humanity/internal/store"
	"github.com/kiliankoe/ai-against-humanity/internal/store/pgstore/migrations"
)

type Store struct {
	db *bun.DB
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

// Open connects with pgdriver and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(bun.NewDB(sqldb, pgdialect.New())), nil
}

func New(db *bun.DB) *Store {
	db.RegisterModel(
		(*store.User)(nil),
		(*store.Card)(nil),
		(*store.Game)(nil),
		(*store.Player)(nil),
		(*store.Round)(nil),
		(*store.Submission)(nil),
		(*store.CustomPersona)(nil),
		(*store.ResponsePool)(nil),
		(*store.APIKey)(nil),
	)
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB { return s.db }

// Migrator returns a bun migrator over the schema migrations.
func (s *Store) Migrator() *migrate.Migrator {
	return migrate.NewMigrator(s.db, migrations.Migrations)
}

// Migrate creates the migration tables if needed and applies pending migrations.
func (s *Store) Migrate(ctx context.Context) (*migrate.MigrationGroup, error) {
	m := s.Migrator()
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	return m.Migrate(ctx)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, btx bun.Tx) error {
		return fn(ctx, &tx{db: btx})
	})
}

func (s *Store) Close() error { return s.db.Close() }

// mapErr translates driver errors into store sentinels.
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == "23505" {
		return fmt.Errorf("%s: %w", op, store.ErrDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// mustAffect reports store.ErrNotFound when an update or delete matched nothing.
func mustAffect(res sql.Result, err error, op string) error {
	if err != nil {
		return mapErr(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err, op)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type tx struct {
	db bun.IDB
}

func (t *tx) insert(ctx context.Context, model any, op string) error {
	_, err := t.db.NewInsert().Model(model).Exec(ctx)
	return mapErr(err, op)
}

func (t *tx) updateByID(ctx context.Context, model any, op string) error {
	res, err := t.db.NewUpdate().Model(model).WherePK().Exec(ctx)
	return mustAffect(res, err, op)
}

func getOne[T any](ctx context.Context, db bun.IDB, op string, where string, args ...any) (*T, error) {
	out := new(T)
	if err := db.NewSelect().Model(out).Where(where, args...).Limit(1).Scan(ctx); err != nil {
		return nil, mapErr(err, op)
	}
	return out, nil
}

// Users

func (t *tx) CreateUser(ctx context.Context, u *store.User) error {
	return t.insert(ctx, u, "create user")
}

func (t *tx) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	return getOne[store.User](ctx, t.db, "get user", "id = ?", id)
}

func (t *tx) UpdateUser(ctx context.Context, u *store.User) error {
	return t.updateByID(ctx, u, "update user")
}

// Cards

func (t *tx) InsertCards(ctx context.Context, cards []store.Card) error {
	if len(cards) == 0 {
		return nil
	}
	_, err := t.db.NewInsert().Model(&cards).Exec(ctx)
	return mapErr(err, "insert cards")
}

func (t *tx) GetCard(ctx context.Context, id uuid.UUID) (*store.Card, error) {
	return getOne[store.Card](ctx, t.db, "get card", "id = ?", id)
}

func (t *tx) ListCards(ctx context.Context, typ store.CardType) ([]store.Card, error) {
	var cards []store.Card
	err := t.db.NewSelect().Model(&cards).Where("type = ?", typ).Order("pack", "id").Scan(ctx)
	return cards, mapErr(err, "list cards")
}

// Games

func (t *tx) CreateGame(ctx context.Context, g *store.Game) error {
	return t.insert(ctx, g, "create game")
}

func (t *tx) GetGame(ctx context.Context, id uuid.UUID) (*store.Game, error) {
	return getOne[store.Game](ctx, t.db, "get game", "id = ?", id)
}

func (t *tx) GetGameByCode(ctx context.Context, code string) (*store.Game, error) {
	return getOne[store.Game](ctx, t.db, "get game by code", "invite_code = ?", code)
}

func (t *tx) UpdateGame(ctx context.Context, g *store.Game) error {
	return t.updateByID(ctx, g, "update game")
}

func (t *tx) ListGames(ctx context.Context, status store.GameStatus) ([]store.Game, error) {
	var games []store.Game
	err := t.db.NewSelect().Model(&games).Where("status = ?", status).Order("created_at DESC", "id").Scan(ctx)
	return games, mapErr(err, "list games")
}

// Players

func (t *tx) AddPlayer(ctx context.Context, p *store.Player) error {
	return t.insert(ctx, p, "add player")
}

func (t *tx) GetPlayer(ctx context.Context, id uuid.UUID) (*store.Player, error) {
	return getOne[store.Player](ctx, t.db, "get player", "id = ?", id)
}

func (t *tx) ListPlayers(ctx context.Context, gameID uuid.UUID) ([]store.Player, error) {
	var players []store.Player
	err := t.db.NewSelect().Model(&players).Where("game_id = ?", gameID).Order("seat").Scan(ctx)
	return players, mapErr(err, "list players")
}

func (t *tx) UpdatePlayer(ctx context.Context, p *store.Player) error {
	return t.updateByID(ctx, p, "update player")
}

// Rounds

func (t *tx) CreateRound(ctx context.Context, r *store.Round) error {
	return t.insert(ctx, r, "create round")
}

func (t *tx) GetRound(ctx context.Context, id uuid.UUID) (*store.Round, error) {
	return getOne[store.Round](ctx, t.db, "get round", "id = ?", id)
}

func (t *tx) GetRoundByNumber(ctx context.Context, gameID uuid.UUID, number int) (*store.Round, error) {
	return getOne[store.Round](ctx, t.db, "get round by number", "game_id = ? AND number = ?", gameID, number)
}

func (t *tx) ListRounds(ctx context.Context, gameID uuid.UUID) ([]store.Round, error) {
	var rounds []store.Round
	err := t.db.NewSelect().Model(&rounds).Where("game_id = ?", gameID).Order("number").Scan(ctx)
	return rounds, mapErr(err, "list rounds")
}

func (t *tx) UpdateRound(ctx context.Context, r *store.Round) error {
	return t.updateByID(ctx, r, "update round")
}

// Submissions

func (t *tx) CreateSubmission(ctx context.Context, s *store.Submission) error {
	return t.insert(ctx, s, "create submission")
}

func (t *tx) ListSubmissions(ctx context.Context, roundID uuid.UUID) ([]store.Submission, error) {
	var subs []store.Submission
	err := t.db.NewSelect().Model(&subs).Where("round_id = ?", roundID).Order("created_at", "id").Scan(ctx)
	return subs, mapErr(err, "list submissions")
}

// Personas

func (t *tx) CreatePersona(ctx context.Context, p *store.CustomPersona) error {
	return t.insert(ctx, p, "create persona")
}

func (t *tx) GetPersona(ctx context.Context, id uuid.UUID) (*store.CustomPersona, error) {
	return getOne[store.CustomPersona](ctx, t.db, "get persona", "id = ?", id)
}

func (t *tx) UpdatePersona(ctx context.Context, p *store.CustomPersona) error {
	return t.updateByID(ctx, p, "update persona")
}

func (t *tx) DeletePersona(ctx context.Context, id uuid.UUID) error {
	res, err := t.db.NewDelete().Model((*store.CustomPersona)(nil)).Where("id = ?", id).Exec(ctx)
	return mustAffect(res, err, "delete persona")
}

func (t *tx) ListPersonasByCreator(ctx context.Context, creatorID uuid.UUID) ([]store.CustomPersona, error) {
	var personas []store.CustomPersona
	err := t.db.NewSelect().Model(&personas).Where("creator_id = ?", creatorID).Order("created_at", "id").Scan(ctx)
	return personas, mapErr(err, "list personas")
}

func (t *tx) ListPublicPersonas(ctx context.Context) ([]store.CustomPersona, error) {
	var personas []store.CustomPersona
	err := t.db.NewSelect().Model(&personas).Where("public").Order("created_at", "id").Scan(ctx)
	return personas, mapErr(err, "list public personas")
}

// Response pools

func (t *tx) GetPool(ctx context.Context, promptText, personaID string) (*store.ResponsePool, error) {
	return getOne[store.ResponsePool](ctx, t.db, "get response pool", "prompt_text = ? AND persona_id = ?", promptText, personaID)
}

func (t *tx) CreatePool(ctx context.Context, p *store.ResponsePool) error {
	return t.insert(ctx, p, "create response pool")
}

func (t *tx) UpdatePool(ctx context.Context, p *store.ResponsePool) error {
	return t.updateByID(ctx, p, "update response pool")
}

// API keys

func (t *tx) CreateAPIKey(ctx context.Context, k *store.APIKey) error {
	return t.insert(ctx, k, "create api key")
}

func (t *tx) GetAPIKey(ctx context.Context, id uuid.UUID) (*store.APIKey, error) {
	return getOne[store.APIKey](ctx, t.db, "get api key", "id = ?", id)
}

func (t *tx) FindAPIKey(ctx context.Context, userID uuid.UUID, provider string) (*store.APIKey, error) {
	return getOne[store.APIKey](ctx, t.db, "find api key", "user_id = ? AND provider = ?", userID, provider)
}

func (t *tx) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]store.APIKey, error) {
	var keys []store.APIKey
	err := t.db.NewSelect().Model(&keys).Where("user_id = ?", userID).Order("provider").Scan(ctx)
	return keys, mapErr(err, "list api keys")
}

func (t *tx) UpdateAPIKey(ctx context.Context, k *store.APIKey) error {
	return t.updateByID(ctx, k, "update api key")
}

func (t *tx) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	res, err := t.db.NewDelete().Model((*store.APIKey)(nil)).Where("id = ?", id).Exec(ctx)
	return mustAffect(res, err, "delete api key")
}

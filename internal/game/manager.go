// Package game runs the game lifecycle around the round state machine:
// lobbies, dealing, judge rotation and the scheduled work of each round.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/ai-against-humanity/internal/apperr"
	"github.com/kiliankoe/ai-against-humanity/internal/credentials"
	"github.com/kiliankoe/ai-against-humanity/internal/jobs"
	"github.com/kiliankoe/ai-against-humanity/internal/metrics"
	"github.com/kiliankoe/ai-against-humanity/internal/orchestrator"
	"github.com/kiliankoe/ai-against-humanity/internal/persona"
	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

const (
	inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteLength   = 6

	DefaultSubmissionTimeout = 60 * time.Second
	DefaultJudgingTimeout    = 60 * time.Second
)

var (
	ErrGameNotFound     = apperr.NotFound("game not found")
	ErrUserNotFound     = apperr.NotFound("user not found")
	ErrBadInviteCode    = apperr.Validation("invite codes are 6 letters or digits")
	ErrAlreadyStarted   = apperr.Conflict("game already started")
	ErrAlreadyJoined    = apperr.Conflict("already in this game")
	ErrGameFull         = apperr.Conflict("game is full")
	ErrAICap            = apperr.Validation("maximum number of AI players reached")
	ErrNotEnoughPlayers = apperr.Conflict("need at least 2 players")
	ErrNoPromptCards    = apperr.Conflict("no prompt cards available")
	ErrRoundInProgress  = apperr.Conflict("the current round is still in progress")
	ErrBadGameMode      = apperr.Validation("game mode must be 1-30 characters")
	ErrBadMaxPlayers    = apperr.Validation("max players must be between 2 and 10")
	ErrBadPointsToWin   = apperr.Validation("points to win must be between 1 and 20")
	ErrBadUsername      = apperr.Validation("username must be 1-24 characters")
)

// AIPlayers produces submissions and verdicts for AI-controlled players.
type AIPlayers interface {
	Run(ctx context.Context, gameID, roundID uuid.UUID) (orchestrator.Outcome, error)
	PickWinner(ctx context.Context, roundID uuid.UUID) (uuid.UUID, error)
}

// Notifier is told about every change to a game's state.
type Notifier interface {
	GameChanged(ctx context.Context, gameID uuid.UUID)
}

type Config struct {
	SubmissionTimeout time.Duration
	JudgingTimeout    time.Duration
}

type Deps struct {
	Store     store.Store
	Machine   *round.Machine
	AI        AIPlayers
	Scheduler jobs.Scheduler
	Notifier  Notifier
	Metrics   *metrics.Metrics
	// Results, when set, receives every completed round.
	Results *ResultsLog
}

type Manager struct {
	Deps
	cfg     Config
	now     func() time.Time
	intN    func(n int) int
	shuffle func(n int, swap func(i, j int))
}

func NewManager(d Deps, cfg Config) *Manager {
	if cfg.SubmissionTimeout <= 0 {
		cfg.SubmissionTimeout = DefaultSubmissionTimeout
	}
	if cfg.JudgingTimeout <= 0 {
		cfg.JudgingTimeout = DefaultJudgingTimeout
	}
	if d.Machine == nil {
		d.Machine = round.New()
	}
	return &Manager{Deps: d, cfg: cfg, now: time.Now, intN: rand.IntN, shuffle: rand.Shuffle}
}

func (m *Manager) notify(ctx context.Context, gameID uuid.UUID) {
	if m.Notifier != nil {
		m.Notifier.GameChanged(ctx, gameID)
	}
}

func (m *Manager) schedule(ctx context.Context, delay time.Duration, t jobs.Task) {
	if m.Scheduler == nil {
		return
	}
	if err := m.Scheduler.RunAfter(ctx, delay, t); err != nil {
		log.Error().Err(err).Str("task", t.String()).Msg("failed to schedule task")
	}
}

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = inviteAlphabet[rand.IntN(len(inviteAlphabet))]
	}
	return string(b)
}

// NormalizeCode upper-cases a user-typed invite code and checks its shape.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != inviteLength {
		return "", ErrBadInviteCode
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(inviteAlphabet, rune(code[i])) {
			return "", ErrBadInviteCode
		}
	}
	return code, nil
}

func (s *Settings) normalize() error {
	s.GameMode = strings.TrimSpace(s.GameMode)
	if s.GameMode == "" {
		s.GameMode = DefaultGameMode
	}
	if s.MaxPlayers == 0 {
		s.MaxPlayers = DefaultMaxPlayers
	}
	if s.PointsToWin == 0 {
		s.PointsToWin = DefaultPointsToWin
	}
	if utf8.RuneCountInString(s.GameMode) > MaxGameMode {
		return ErrBadGameMode
	}
	if s.MaxPlayers < MinPlayers || s.MaxPlayers > MaxPlayers {
		return ErrBadMaxPlayers
	}
	if s.PointsToWin < MinPointsToWin || s.PointsToWin > MaxPointsToWin {
		return ErrBadPointsToWin
	}
	return nil
}

func getGame(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Game, error) {
	g, err := tx.GetGame(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	return g, err
}

func requireUser(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	_, err := tx.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

// RegisterGuest creates a user that can host and join games.
func (m *Manager) RegisterGuest(ctx context.Context, username string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < 1 || n > MaxUsername {
		return nil, ErrBadUsername
	}
	u := &store.User{ID: uuid.New(), Username: username, CreatedAt: m.now()}
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("userId", u.ID.String()).Str("username", username).Msg("guest registered")
	return u, nil
}

func (m *Manager) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	return store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) (*store.User, error) {
		u, err := tx.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return u, err
	})
}

// CreateGame opens a lobby and seats the host in the first seat.
func (m *Manager) CreateGame(ctx context.Context, hostID uuid.UUID, s Settings) (*store.Game, error) {
	if err := s.normalize(); err != nil {
		return nil, err
	}
	var g *store.Game
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requireUser(ctx, tx, hostID); err != nil {
			return err
		}
		code, err := freeCode(ctx, tx)
		if err != nil {
			return err
		}
		g = &store.Game{
			ID:          uuid.New(),
			Status:      store.GameLobby,
			GameMode:    s.GameMode,
			MaxPlayers:  s.MaxPlayers,
			PointsToWin: s.PointsToWin,
			HostID:      hostID,
			InviteCode:  code,
			CreatedAt:   m.now(),
		}
		if err := tx.CreateGame(ctx, g); err != nil {
			return err
		}
		return tx.AddPlayer(ctx, &store.Player{
			ID:       uuid.New(),
			GameID:   g.ID,
			UserID:   &hostID,
			Hand:     []uuid.UUID{},
			JoinedAt: m.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("gameId", g.ID.String()).Str("code", g.InviteCode).Msg("game created")
	return g, nil
}

// freeCode looks the code up before inserting: a failed insert aborts a
// Postgres transaction.
func freeCode(ctx context.Context, tx store.Tx) (string, error) {
	for range 20 {
		code := randomCode(inviteLength)
		_, err := tx.GetGameByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free invite code after 20 attempts: %w", store.ErrDuplicate)
}

func (m *Manager) JoinGame(ctx context.Context, gameID, userID uuid.UUID) (*store.Player, error) {
	var p *store.Player
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		g, err := getGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		p, err = m.join(ctx, tx, g, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.notify(ctx, gameID)
	return p, nil
}

func (m *Manager) JoinByCode(ctx context.Context, code string, userID uuid.UUID) (*store.Player, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	var p *store.Player
	err = m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		g, err := tx.GetGameByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return ErrGameNotFound
		}
		if err != nil {
			return err
		}
		p, err = m.join(ctx, tx, g, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.notify(ctx, p.GameID)
	return p, nil
}

func (m *Manager) join(ctx context.Context, tx store.Tx, g *store.Game, userID uuid.UUID) (*store.Player, error) {
	if g.Status != store.GameLobby {
		return nil, ErrAlreadyStarted
	}
	if err := requireUser(ctx, tx, userID); err != nil {
		return nil, err
	}
	players, err := tx.ListPlayers(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if p.UserID != nil && *p.UserID == userID {
			return nil, ErrAlreadyJoined
		}
	}
	if len(players) >= g.MaxPlayers {
		return nil, ErrGameFull
	}
	p := &store.Player{
		ID:       uuid.New(),
		GameID:   g.ID,
		UserID:   &userID,
		Hand:     []uuid.UUID{},
		Seat:     nextSeat(players),
		JoinedAt: m.now(),
	}
	if err := tx.AddPlayer(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Str("gameId", g.ID.String()).Str("userId", userID.String()).Msg("player joined")
	return p, nil
}

func nextSeat(players []store.Player) int {
	seat := 0
	for _, p := range players {
		if p.Seat >= seat {
			seat = p.Seat + 1
		}
	}
	return seat
}

// AddAIPlayer seats an AI player driven by the given persona. A game holds
// three AI players, or five when the host has a valid OpenAI key on file.
func (m *Manager) AddAIPlayer(ctx context.Context, gameID uuid.UUID, personaID persona.ID) (*store.Player, error) {
	var p *store.Player
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		g, err := getGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if g.Status != store.GameLobby {
			return ErrAlreadyStarted
		}
		if _, err := persona.ResolveTx(ctx, tx, personaID); err != nil {
			return err
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		if len(players) >= g.MaxPlayers {
			return ErrGameFull
		}
		byok, err := credentials.HasValidKey(ctx, tx, g.HostID, credentials.ProviderOpenAI)
		if err != nil {
			return err
		}
		limit := baseAICap
		if byok {
			limit = byokAICap
		}
		ais := 0
		for _, pl := range players {
			if pl.IsAI {
				ais++
			}
		}
		if ais >= limit {
			return fmt.Errorf("%w: %d per game", ErrAICap, limit)
		}
		p = &store.Player{
			ID:        uuid.New(),
			GameID:    gameID,
			PersonaID: personaID.String(),
			IsAI:      true,
			Hand:      []uuid.UUID{},
			Seat:      nextSeat(players),
			JoinedAt:  m.now(),
		}
		return tx.AddPlayer(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("gameId", gameID.String()).Str("persona", personaID.String()).Msg("ai player added")
	m.notify(ctx, gameID)
	return p, nil
}

// StartGame makes the first seat judge, deals every other player a full
// hand and opens round one.
func (m *Manager) StartGame(ctx context.Context, gameID uuid.UUID) (*store.Round, error) {
	var r *store.Round
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		g, err := getGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if g.Status != store.GameLobby {
			return ErrAlreadyStarted
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		if len(players) < MinPlayers {
			return ErrNotEnoughPlayers
		}
		prompt, err := m.drawPrompt(ctx, tx, gameID)
		if err != nil {
			return err
		}
		judge := &players[0]
		judge.IsJudge = true
		if err := tx.UpdatePlayer(ctx, judge); err != nil {
			return err
		}
		if err := m.deal(ctx, tx, gameID, store.NonJudges(players)); err != nil {
			return err
		}
		g.Status = store.GamePlaying
		r, err = m.Machine.Open(ctx, tx, g, judge, prompt)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("gameId", gameID.String()).Str("roundId", r.ID.String()).Msg("game started")
	m.roundOpened(ctx, r)
	return r, nil
}

// StartNextRound rotates the judge to the next seat, refills every hand and
// opens the next round. The previous round must be complete or abandoned
// in judging without submissions.
func (m *Manager) StartNextRound(ctx context.Context, gameID uuid.UUID) (*store.Round, error) {
	var r *store.Round
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		g, err := getGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if g.Status != store.GamePlaying {
			return round.ErrGameNotPlaying
		}
		if err := roundSettled(ctx, tx, g); err != nil {
			return err
		}
		players, err := tx.ListPlayers(ctx, gameID)
		if err != nil {
			return err
		}
		next := 0
		for i, p := range players {
			if p.IsJudge {
				next = (i + 1) % len(players)
			}
		}
		for i := range players {
			isJudge := i == next
			if players[i].IsJudge == isJudge {
				continue
			}
			players[i].IsJudge = isJudge
			if err := tx.UpdatePlayer(ctx, &players[i]); err != nil {
				return err
			}
		}
		if err := m.deal(ctx, tx, gameID, players); err != nil {
			return err
		}
		prompt, err := m.drawPrompt(ctx, tx, gameID)
		if err != nil {
			return err
		}
		r, err = m.Machine.Open(ctx, tx, g, &players[next], prompt)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("gameId", gameID.String()).Int("round", r.Number).Msg("next round started")
	m.roundOpened(ctx, r)
	return r, nil
}

func roundSettled(ctx context.Context, tx store.Tx, g *store.Game) error {
	cur, err := tx.GetRoundByNumber(ctx, g.ID, g.CurrentRound)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch cur.Status {
	case store.RoundComplete:
		return nil
	case store.RoundJudging:
		subs, err := tx.ListSubmissions(ctx, cur.ID)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			return nil
		}
	}
	return ErrRoundInProgress
}

func (m *Manager) roundOpened(ctx context.Context, r *store.Round) {
	m.schedule(ctx, 0, jobs.Task{Kind: jobs.KindGenerateAI, GameID: r.GameID, RoundID: r.ID})
	m.schedule(ctx, m.cfg.SubmissionTimeout, jobs.Task{Kind: jobs.KindExpireSubmitting, GameID: r.GameID, RoundID: r.ID})
	m.notify(ctx, r.GameID)
}

// drawPrompt prefers prompts this game has not used yet.
func (m *Manager) drawPrompt(ctx context.Context, tx store.Tx, gameID uuid.UUID) (*store.Card, error) {
	prompts, err := tx.ListCards(ctx, store.CardPrompt)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, ErrNoPromptCards
	}
	rounds, err := tx.ListRounds(ctx, gameID)
	if err != nil {
		return nil, err
	}
	used := make(map[uuid.UUID]bool, len(rounds))
	for _, r := range rounds {
		used[r.PromptCardID] = true
	}
	fresh := make([]store.Card, 0, len(prompts))
	for _, c := range prompts {
		if !used[c.ID] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		fresh = prompts
	}
	c := fresh[m.intN(len(fresh))]
	return &c, nil
}

// deal tops the given players' hands up to HandSize from the response cards
// not held or played in this game. An exhausted deck leaves hands short.
func (m *Manager) deal(ctx context.Context, tx store.Tx, gameID uuid.UUID, to []store.Player) error {
	deck, err := m.undealt(ctx, tx, gameID)
	if err != nil {
		return err
	}
	m.shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	for i := range to {
		p := &to[i]
		need := HandSize - len(p.Hand)
		if need <= 0 {
			continue
		}
		need = min(need, len(deck))
		if need == 0 {
			log.Warn().Str("gameId", gameID.String()).Msg("response deck exhausted")
			return nil
		}
		p.Hand = append(append([]uuid.UUID{}, p.Hand...), deck[:need]...)
		deck = deck[need:]
		if err := tx.UpdatePlayer(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) undealt(ctx context.Context, tx store.Tx, gameID uuid.UUID) ([]uuid.UUID, error) {
	responses, err := tx.ListCards(ctx, store.CardResponse)
	if err != nil {
		return nil, err
	}
	taken := make(map[uuid.UUID]bool)
	players, err := tx.ListPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		for _, c := range p.Hand {
			taken[c] = true
		}
	}
	rounds, err := tx.ListRounds(ctx, gameID)
	if err != nil {
		return nil, err
	}
	for _, r := range rounds {
		subs, err := tx.ListSubmissions(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			if s.CardID != nil {
				taken[*s.CardID] = true
			}
		}
	}
	deck := make([]uuid.UUID, 0, len(responses))
	for _, c := range responses {
		if !taken[c.ID] {
			deck = append(deck, c.ID)
		}
	}
	return deck, nil
}

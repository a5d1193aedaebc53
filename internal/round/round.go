// Package round holds the transactional round transitions:
// submitting -> judging -> complete. Every function runs inside a
// caller-provided store.Tx and performs no network calls.
package round

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/apperr"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

var (
	ErrRoundNotFound     = apperr.NotFound("round not found")
	ErrPlayerNotFound    = apperr.NotFound("player not found")
	ErrGameNotFound      = apperr.NotFound("game not found")
	ErrNotSubmitting     = apperr.Conflict("round is not accepting submissions")
	ErrNotJudging        = apperr.Conflict("round is not being judged")
	ErrGameNotPlaying    = apperr.Conflict("game is not in progress")
	ErrAlreadySubmitted  = apperr.Conflict("already submitted")
	ErrJudgeCannotSubmit = apperr.Validation("the judge does not submit this round")
	ErrEmptyPayload      = apperr.Validation("a submission needs exactly one of a card or text")
	ErrCardNotInHand     = apperr.Validation("card is not in your hand")
	ErrWrongGame         = apperr.Validation("player is not part of this game")
	ErrNoSubmission      = apperr.Validation("winner did not submit this round")
)

// Payload is a card from the hand or free text, never both.
type Payload struct {
	CardID *uuid.UUID
	Text   string
}

func (p Payload) valid() bool {
	return (p.CardID != nil) != (p.Text != "")
}

type Result struct {
	Round        *store.Round
	Winner       *store.Player
	Game         *store.Game
	GameFinished bool
}

type Machine struct {
	now  func() time.Time
	pick func(n int) int
}

func New() *Machine {
	return &Machine{now: time.Now, pick: rand.IntN}
}

func getRound(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Round, error) {
	r, err := tx.GetRound(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoundNotFound
	}
	return r, err
}

func getPlayer(ctx context.Context, tx store.Tx, id uuid.UUID) (*store.Player, error) {
	p, err := tx.GetPlayer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	return p, err
}

func hasSubmitted(subs []store.Submission, playerID uuid.UUID) bool {
	for _, s := range subs {
		if s.PlayerID == playerID {
			return true
		}
	}
	return false
}

// Submit is the strict path used by human players.
func (m *Machine) Submit(ctx context.Context, tx store.Tx, roundID, playerID uuid.UUID, p Payload) (*store.Submission, error) {
	r, err := getRound(ctx, tx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != store.RoundSubmitting {
		return nil, ErrNotSubmitting
	}
	player, err := getPlayer(ctx, tx, playerID)
	if err != nil {
		return nil, err
	}
	if player.GameID != r.GameID {
		return nil, ErrWrongGame
	}
	if r.JudgePlayerID == player.ID {
		return nil, ErrJudgeCannotSubmit
	}
	if !p.valid() {
		return nil, ErrEmptyPayload
	}
	subs, err := tx.ListSubmissions(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if hasSubmitted(subs, playerID) {
		return nil, ErrAlreadySubmitted
	}
	if p.CardID != nil {
		if !player.HasCard(*p.CardID) {
			return nil, ErrCardNotInHand
		}
		player.RemoveCard(*p.CardID)
		if err := tx.UpdatePlayer(ctx, player); err != nil {
			return nil, err
		}
	}
	sub := &store.Submission{
		ID:        uuid.New(),
		RoundID:   roundID,
		PlayerID:  playerID,
		CardID:    p.CardID,
		Text:      p.Text,
		CreatedAt: m.now(),
	}
	if err := tx.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadySubmitted
		}
		return nil, err
	}
	return sub, nil
}

// SubmitAI is the idempotent path. It reports false without error when the
// round has moved on or the player already has a submission.
func (m *Machine) SubmitAI(ctx context.Context, tx store.Tx, roundID, playerID uuid.UUID, text string) (bool, error) {
	if text == "" {
		return false, ErrEmptyPayload
	}
	r, err := getRound(ctx, tx, roundID)
	if err != nil {
		return false, err
	}
	if r.Status != store.RoundSubmitting {
		return false, nil
	}
	if r.JudgePlayerID == playerID {
		return false, ErrJudgeCannotSubmit
	}
	subs, err := tx.ListSubmissions(ctx, roundID)
	if err != nil {
		return false, err
	}
	if hasSubmitted(subs, playerID) {
		return false, nil
	}
	err = tx.CreateSubmission(ctx, &store.Submission{
		ID:        uuid.New(),
		RoundID:   roundID,
		PlayerID:  playerID,
		Text:      text,
		CreatedAt: m.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return false, nil
	}
	return err == nil, err
}

// Pending returns the non-judge players without a submission, in seat order.
func Pending(ctx context.Context, tx store.Tx, r *store.Round) ([]store.Player, error) {
	players, err := tx.ListPlayers(ctx, r.GameID)
	if err != nil {
		return nil, err
	}
	subs, err := tx.ListSubmissions(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	var out []store.Player
	for _, p := range players {
		if p.ID != r.JudgePlayerID && !hasSubmitted(subs, p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// AdvanceIfComplete moves a submitting round to judging once every
// non-judge player has submitted.
func (m *Machine) AdvanceIfComplete(ctx context.Context, tx store.Tx, roundID uuid.UUID) (bool, error) {
	r, err := getRound(ctx, tx, roundID)
	if err != nil {
		return false, err
	}
	if r.Status != store.RoundSubmitting {
		return false, nil
	}
	players, err := tx.ListPlayers(ctx, r.GameID)
	if err != nil {
		return false, err
	}
	subs, err := tx.ListSubmissions(ctx, roundID)
	if err != nil {
		return false, err
	}
	submitters := 0
	for _, p := range players {
		if p.ID != r.JudgePlayerID {
			submitters++
		}
	}
	if len(subs) < submitters {
		return false, nil
	}
	r.Status = store.RoundJudging
	return true, tx.UpdateRound(ctx, r)
}

// MoveToJudging is the explicit trigger; it fails unless the round is submitting.
func (m *Machine) MoveToJudging(ctx context.Context, tx store.Tx, roundID uuid.UUID) error {
	r, err := getRound(ctx, tx, roundID)
	if err != nil {
		return err
	}
	if r.Status != store.RoundSubmitting {
		return ErrNotSubmitting
	}
	r.Status = store.RoundJudging
	return tx.UpdateRound(ctx, r)
}

func (m *Machine) SelectWinner(ctx context.Context, tx store.Tx, roundID, winnerID uuid.UUID) (*Result, error) {
	r, err := getRound(ctx, tx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != store.RoundJudging {
		return nil, ErrNotJudging
	}
	g, err := tx.GetGame(ctx, r.GameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	if g.Status != store.GamePlaying {
		return nil, ErrGameNotPlaying
	}
	subs, err := tx.ListSubmissions(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if !hasSubmitted(subs, winnerID) {
		return nil, ErrNoSubmission
	}
	winner, err := getPlayer(ctx, tx, winnerID)
	if err != nil {
		return nil, err
	}

	r.WinnerPlayerID = &winner.ID
	r.Status = store.RoundComplete
	if err := tx.UpdateRound(ctx, r); err != nil {
		return nil, err
	}
	winner.Score++
	if err := tx.UpdatePlayer(ctx, winner); err != nil {
		return nil, err
	}

	res := &Result{Round: r, Winner: winner, Game: g}
	if winner.Score >= g.PointsToWin {
		g.Status = store.GameFinished
		if err := tx.UpdateGame(ctx, g); err != nil {
			return nil, err
		}
		if err := recordStats(ctx, tx, g.ID, winner); err != nil {
			return nil, err
		}
		res.GameFinished = true
	}
	return res, nil
}

// recordStats counts a played game for every seated human and a win for the
// winner's user.
func recordStats(ctx context.Context, tx store.Tx, gameID uuid.UUID, winner *store.Player) error {
	players, err := tx.ListPlayers(ctx, gameID)
	if err != nil {
		return err
	}
	for _, p := range players {
		if p.UserID == nil {
			continue
		}
		u, err := tx.GetUser(ctx, *p.UserID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		u.GamesPlayed++
		if p.ID == winner.ID {
			u.GamesWon++
		}
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// Open inserts the game's next round in submitting and bumps the game's
// current round number.
func (m *Machine) Open(ctx context.Context, tx store.Tx, g *store.Game, judge *store.Player, prompt *store.Card) (*store.Round, error) {
	if g.Status != store.GamePlaying {
		return nil, ErrGameNotPlaying
	}
	r := &store.Round{
		ID:            uuid.New(),
		GameID:        g.ID,
		Number:        g.CurrentRound + 1,
		PromptCardID:  prompt.ID,
		JudgePlayerID: judge.ID,
		Status:        store.RoundSubmitting,
		CreatedAt:     m.now(),
	}
	if err := tx.CreateRound(ctx, r); err != nil {
		return nil, err
	}
	g.CurrentRound = r.Number
	if err := tx.UpdateGame(ctx, g); err != nil {
		return nil, err
	}
	return r, nil
}

// ExpireSubmitting forces judging when the submission timeout fires. It is a
// no-op for rounds that already moved on.
func (m *Machine) ExpireSubmitting(ctx context.Context, tx store.Tx, roundID uuid.UUID) (bool, error) {
	r, err := getRound(ctx, tx, roundID)
	if err != nil {
		return false, err
	}
	if r.Status != store.RoundSubmitting {
		return false, nil
	}
	r.Status = store.RoundJudging
	return true, tx.UpdateRound(ctx, r)
}

// ExpireJudging picks a uniformly random submission as winner when the judge
// never acted. A round with no submissions is left in judging and counts as
// abandoned; nil is returned in that case and for rounds no longer judging.
func (m *Machine) ExpireJudging(ctx context.Context, tx store.Tx, roundID uuid.UUID) (*Result, error) {
	r, err := getRound(ctx, tx, roundID)
	if err != nil {
		return nil, err
	}
	if r.Status != store.RoundJudging {
		return nil, nil
	}
	subs, err := tx.ListSubmissions(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}
	g, err := tx.GetGame(ctx, r.GameID)
	if err != nil {
		return nil, err
	}
	if g.Status != store.GamePlaying {
		return nil, nil
	}
	return m.SelectWinner(ctx, tx, roundID, subs[m.pick(len(subs))].PlayerID)
}

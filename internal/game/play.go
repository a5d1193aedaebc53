package game

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/ai-against-humanity/internal/jobs"
	"github.com/kiliankoe/ai-against-humanity/internal/orchestrator"
	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

// SubmitCard plays a card from a human player's hand. The round moves to
// judging once every non-judge player has submitted.
func (m *Manager) SubmitCard(ctx context.Context, roundID, playerID, cardID uuid.UUID) (*store.Submission, error) {
	var (
		sub      *store.Submission
		advanced bool
		r        *store.Round
	)
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sub, err = m.Machine.Submit(ctx, tx, roundID, playerID, round.Payload{CardID: &cardID})
		if err != nil {
			return err
		}
		advanced, err = m.Machine.AdvanceIfComplete(ctx, tx, roundID)
		if err != nil {
			return err
		}
		r, err = tx.GetRound(ctx, roundID)
		return err
	})
	if err != nil {
		m.Metrics.Submission("rejected")
		return nil, err
	}
	m.Metrics.Submission("accepted")
	if advanced {
		m.judgingStarted(ctx, r)
	}
	m.notify(ctx, r.GameID)
	return sub, nil
}

// MoveToJudging closes submissions early and starts judging with whatever
// has been submitted.
func (m *Manager) MoveToJudging(ctx context.Context, roundID uuid.UUID) (*store.Round, error) {
	var r *store.Round
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := m.Machine.MoveToJudging(ctx, tx, roundID); err != nil {
			return err
		}
		var err error
		r, err = tx.GetRound(ctx, roundID)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.judgingStarted(ctx, r)
	m.notify(ctx, r.GameID)
	return r, nil
}

// SelectWinner records the judge's pick and scores it.
func (m *Manager) SelectWinner(ctx context.Context, roundID, winnerID uuid.UUID) (*round.Result, error) {
	var res *round.Result
	err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = m.Machine.SelectWinner(ctx, tx, roundID, winnerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.roundCompleted(ctx, res)
	return res, nil
}

func (m *Manager) roundCompleted(ctx context.Context, res *round.Result) {
	m.Metrics.RoundCompleted()
	log.Info().
		Str("gameId", res.Game.ID.String()).
		Int("round", res.Round.Number).
		Str("winner", res.Winner.ID.String()).
		Bool("gameFinished", res.GameFinished).
		Msg("round complete")
	if m.Results != nil {
		if err := m.export(ctx, res); err != nil {
			log.Error().Err(err).Str("gameId", res.Game.ID.String()).Msg("failed to export round")
		}
	}
	m.notify(ctx, res.Game.ID)
}

func (m *Manager) judgingStarted(ctx context.Context, r *store.Round) {
	m.schedule(ctx, m.cfg.JudgingTimeout, jobs.Task{Kind: jobs.KindExpireJudging, GameID: r.GameID, RoundID: r.ID})
	judge, err := store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) (*store.Player, error) {
		return tx.GetPlayer(ctx, r.JudgePlayerID)
	})
	if err != nil {
		log.Error().Err(err).Str("roundId", r.ID.String()).Msg("failed to load judge")
		return
	}
	if judge.IsAI {
		m.schedule(ctx, 0, jobs.Task{Kind: jobs.KindJudgeRound, GameID: r.GameID, RoundID: r.ID})
	}
}

// HandleTask runs scheduled work. Every task tolerates the round having
// moved on since it was scheduled.
func (m *Manager) HandleTask(ctx context.Context, t jobs.Task) error {
	switch t.Kind {
	case jobs.KindGenerateAI:
		out, err := m.AI.Run(ctx, t.GameID, t.RoundID)
		if err != nil {
			return err
		}
		if out.Submitted > 0 || out.Advanced {
			m.notify(ctx, t.GameID)
		}
		if out.Advanced {
			return m.afterAdvance(ctx, t.RoundID)
		}
		return nil

	case jobs.KindExpireSubmitting:
		var moved bool
		err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			moved, err = m.Machine.ExpireSubmitting(ctx, tx, t.RoundID)
			return err
		})
		if err != nil || !moved {
			return err
		}
		log.Info().Str("roundId", t.RoundID.String()).Msg("submission time is up")
		m.notify(ctx, t.GameID)
		return m.afterAdvance(ctx, t.RoundID)

	case jobs.KindExpireJudging:
		var res *round.Result
		err := m.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			res, err = m.Machine.ExpireJudging(ctx, tx, t.RoundID)
			return err
		})
		if err != nil {
			return err
		}
		if res == nil {
			m.notify(ctx, t.GameID)
			return nil
		}
		log.Info().Str("roundId", t.RoundID.String()).Msg("judging time is up, winner picked at random")
		m.roundCompleted(ctx, res)
		return nil

	case jobs.KindJudgeRound:
		winner, err := m.AI.PickWinner(ctx, t.RoundID)
		if errors.Is(err, round.ErrNotJudging) || errors.Is(err, orchestrator.ErrNothingToJudge) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = m.SelectWinner(ctx, t.RoundID, winner)
		if errors.Is(err, round.ErrNotJudging) || errors.Is(err, round.ErrGameNotPlaying) {
			return nil
		}
		return err
	}
	log.Warn().Str("kind", string(t.Kind)).Msg("unknown task kind")
	return nil
}

func (m *Manager) afterAdvance(ctx context.Context, roundID uuid.UUID) error {
	r, err := store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) (*store.Round, error) {
		return tx.GetRound(ctx, roundID)
	})
	if err != nil {
		return err
	}
	m.judgingStarted(ctx, r)
	return nil
}

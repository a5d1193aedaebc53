package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
	"github.com/kiliankoe/ai-against-humanity/internal/metrics"
	"github.com/kiliankoe/ai-against-humanity/internal/persona"
	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

var randIntN = rand.IntN

const (
	defaultJudgePrompt = "You are a fair and funny judge who appreciates creativity and humor."
	judgeInstructions  = "\n\nYou are now judging a Cards Against Humanity round. Pick the funniest answer and explain briefly why it's the best."
)

var leadingNumber = regexp.MustCompile(`^\s*(\d+)`)

type entry struct {
	playerID uuid.UUID
	text     string
}

type ballot struct {
	gameID  uuid.UUID
	prompt  string
	judge   *persona.Persona
	entries []entry
}

// PickWinner asks the shared provider to choose the funniest submission of
// a judging round, in the voice of the judge's persona when the judge is an
// AI player. Any failure or unparsable reply picks a random submission.
func (o *Orchestrator) PickWinner(ctx context.Context, roundID uuid.UUID) (uuid.UUID, error) {
	ctx, span := o.Tracer.Start(ctx, "Orchestrator.PickWinner", trace.WithAttributes(attribute.String("round.id", roundID.String())))
	defer span.End()

	b, err := o.loadBallot(ctx, roundID)
	if err != nil {
		return uuid.Nil, err
	}
	if len(b.entries) == 0 {
		return uuid.Nil, ErrNothingToJudge
	}

	if i, ok := o.judge(ctx, b); ok {
		return b.entries[i].playerID, nil
	}
	return b.entries[o.pick(len(b.entries))].playerID, nil
}

func (o *Orchestrator) judge(ctx context.Context, b *ballot) (int, bool) {
	if o.Limiter.IsLimited(ctx, b.gameID) {
		o.Metrics.RateLimited()
		log.Info().Str("gameId", b.gameID.String()).Msg("game is rate limited, judging at random")
		return 0, false
	}
	system := defaultJudgePrompt
	temperature := judgeTemperature
	if b.judge != nil {
		system = b.judge.SystemPrompt
	}
	reply, err := o.call(ctx, o.Shared, ai.Request{
		Model:        o.cfg.Model,
		SystemPrompt: system + judgeInstructions,
		Prompt:       judgePrompt(b),
		Temperature:  temperature,
		MaxTokens:    judgeMaxTokens,
	}, metrics.PathJudge)
	if err != nil {
		log.Warn().Err(err).Msg("ai judge call failed, judging at random")
		return 0, false
	}
	i, ok := parseChoice(reply, len(b.entries))
	if !ok {
		log.Info().Str("reply", reply).Msg("ai judge reply had no usable number, judging at random")
	}
	return i, ok
}

func judgePrompt(b *ballot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The prompt card says: %q\n\nThe submissions are:\n", b.prompt)
	for i, e := range b.entries {
		fmt.Fprintf(&sb, "%d. %q\n", i+1, e.text)
	}
	sb.WriteString("\nWhich number wins? Reply with just the number first, then a brief explanation.")
	return sb.String()
}

// parseChoice reads the 1-based number leading the reply.
func parseChoice(reply string, n int) (int, bool) {
	m := leadingNumber.FindStringSubmatch(reply)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v - 1, true
}

func (o *Orchestrator) loadBallot(ctx context.Context, roundID uuid.UUID) (*ballot, error) {
	return store.View(ctx, o.Store, func(ctx context.Context, tx store.Tx) (*ballot, error) {
		r, err := tx.GetRound(ctx, roundID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, round.ErrRoundNotFound
		}
		if err != nil {
			return nil, err
		}
		if r.Status != store.RoundJudging {
			return nil, round.ErrNotJudging
		}
		prompt, err := tx.GetCard(ctx, r.PromptCardID)
		if err != nil {
			return nil, fmt.Errorf("prompt card: %w", err)
		}
		b := &ballot{gameID: r.GameID, prompt: prompt.Text}

		judge, err := tx.GetPlayer(ctx, r.JudgePlayerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if judge != nil && judge.IsAI {
			if id, err := persona.ParseID(judge.PersonaID); err == nil {
				if p, err := persona.ResolveTx(ctx, tx, id); err == nil {
					b.judge = p
				}
			}
		}

		subs, err := tx.ListSubmissions(ctx, roundID)
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			text := s.Text
			if s.CardID != nil {
				card, err := tx.GetCard(ctx, *s.CardID)
				if err != nil {
					return nil, fmt.Errorf("submission card: %w", err)
				}
				text = card.Text
			}
			b.entries = append(b.entries, entry{playerID: s.PlayerID, text: text})
		}
		return b, nil
	})
}

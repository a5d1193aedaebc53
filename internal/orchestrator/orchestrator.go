// Package orchestrator generates and submits answers for AI players and
// picks winners for AI judges. It is the only place that talks to LLM
// providers during a game.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-set/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
	"github.com/kiliankoe/ai-against-humanity/internal/credentials"
	"github.com/kiliankoe/ai-against-humanity/internal/metrics"
	"github.com/kiliankoe/ai-against-humanity/internal/persona"
	"github.com/kiliankoe/ai-against-humanity/internal/ratelimit"
	"github.com/kiliankoe/ai-against-humanity/internal/respcache"
	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

// Canned answers used when no generated text is available.
const (
	FillerRateLimited = "I'm thinking too hard... my brain hurts."
	FillerError       = "My circuits are fried right now."
	FillerEmpty       = "I have nothing to say."
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 50
	DefaultCallTimeout = 20 * time.Second

	judgeMaxTokens   = 150
	judgeTemperature = 0.7

	corruptedKeyReason = "Failed to decrypt key: it may be corrupted"
)

var ErrNothingToJudge = errors.New("round has no submissions to judge")

type Config struct {
	Model       string
	MaxTokens   int
	CallTimeout time.Duration
}

// Deps are the collaborators of an Orchestrator. Shared is the provider
// called with the server's own credential; BYOK, when set, is called with
// the host's personal OpenAI key. Credentials, Limiter and Metrics may be nil.
type Deps struct {
	Store       store.Store
	Machine     *round.Machine
	Cache       *respcache.Cache
	Credentials *credentials.Store
	Limiter     *ratelimit.Limiter
	Shared      ai.Provider
	BYOK        ai.Provider
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
}

type Orchestrator struct {
	Deps
	cfg  Config
	pick func(n int) int
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if d.Machine == nil {
		d.Machine = round.New()
	}
	if d.Cache == nil {
		d.Cache = respcache.New(d.Store)
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("github.com/kiliankoe/ai-against-humanity/internal/orchestrator")
	}
	return &Orchestrator{Deps: d, cfg: cfg, pick: randIntN}
}

// Outcome summarises one Run.
type Outcome struct {
	Submitted int
	Skipped   int
	CacheHits int
	Fillers   int
	// Advanced is true when this run moved the round to judging.
	Advanced bool
}

type source int

const (
	fromCache source = iota
	fromProvider
	fromFiller
)

// target is an AI player that still owes a submission.
type target struct {
	player  store.Player
	persona *persona.Persona
}

type snapshot struct {
	game    *store.Game
	prompt  string
	targets []target
	skipped int
}

// personalKey is the host's decrypted key for this run.
type personalKey struct {
	id    uuid.UUID
	plain string
}

func userPrompt(prompt string) string {
	return fmt.Sprintf("The prompt card says: %q\n\nWhat is your response card?", prompt)
}

// Run submits an answer for every AI player of the round that has not
// submitted yet, then moves the round to judging if everyone is in.
// Provider failures never fail the run; only store errors do.
func (o *Orchestrator) Run(ctx context.Context, gameID, roundID uuid.UUID) (Outcome, error) {
	ctx, span := o.Tracer.Start(ctx, "Orchestrator.Run", trace.WithAttributes(
		attribute.String("game.id", gameID.String()),
		attribute.String("round.id", roundID.String()),
	))
	defer span.End()

	var out Outcome
	snap, err := o.load(ctx, gameID, roundID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load round")
		return out, err
	}
	if snap == nil {
		log.Debug().Str("roundId", roundID.String()).Msg("round no longer submitting, nothing to generate")
		return out, nil
	}
	out.Skipped = snap.skipped

	key := o.personalKey(ctx, snap.game.HostID)
	failed := set.New[uuid.UUID](1)

	for _, t := range snap.targets {
		text, src := o.answer(ctx, gameID, snap.prompt, t.persona, key, failed)
		switch src {
		case fromCache:
			out.CacheHits++
		case fromFiller:
			// Fillers stay out of the cache so a provider outage does not
			// keep serving canned answers once the provider is back.
			out.Fillers++
		case fromProvider:
			if err := o.Cache.Put(ctx, snap.prompt, t.persona.ID.String(), text); err != nil {
				log.Warn().Err(err).Str("personaId", t.persona.ID.String()).Msg("could not cache ai response")
			}
		}

		var inserted bool
		err := o.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			inserted, err = o.Machine.SubmitAI(ctx, tx, roundID, t.player.ID, text)
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit")
			return out, fmt.Errorf("submit for player %s: %w", t.player.ID, err)
		}
		if inserted {
			out.Submitted++
			o.Metrics.Submission("inserted")
		} else {
			out.Skipped++
			o.Metrics.Submission("skipped")
		}
		log.Info().
			Str("gameId", gameID.String()).
			Str("playerId", t.player.ID.String()).
			Str("persona", t.persona.Name).
			Bool("inserted", inserted).
			Msg("ai submission")
	}

	err = o.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out.Advanced, err = o.Machine.AdvanceIfComplete(ctx, tx, roundID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "advance")
		return out, err
	}
	span.SetAttributes(
		attribute.Int("ai.submitted", out.Submitted),
		attribute.Int("ai.cache_hits", out.CacheHits),
		attribute.Int("ai.fillers", out.Fillers),
		attribute.Bool("round.advanced", out.Advanced),
	)
	return out, nil
}

// load collects the AI players still owing a submission. It returns nil
// when the round is no longer accepting submissions.
func (o *Orchestrator) load(ctx context.Context, gameID, roundID uuid.UUID) (*snapshot, error) {
	return store.View(ctx, o.Store, func(ctx context.Context, tx store.Tx) (*snapshot, error) {
		r, err := tx.GetRound(ctx, roundID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, round.ErrRoundNotFound
		}
		if err != nil {
			return nil, err
		}
		if r.GameID != gameID {
			return nil, round.ErrWrongGame
		}
		if r.Status != store.RoundSubmitting {
			return nil, nil
		}
		g, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		card, err := tx.GetCard(ctx, r.PromptCardID)
		if err != nil {
			return nil, fmt.Errorf("prompt card: %w", err)
		}
		pending, err := round.Pending(ctx, tx, r)
		if err != nil {
			return nil, err
		}

		snap := &snapshot{game: g, prompt: card.Text}
		for _, p := range pending {
			if !p.IsAI {
				continue
			}
			id, err := persona.ParseID(p.PersonaID)
			if err != nil {
				log.Warn().Str("playerId", p.ID.String()).Str("personaId", p.PersonaID).Msg("ai player has malformed persona id, skipping")
				snap.skipped++
				continue
			}
			per, err := persona.ResolveTx(ctx, tx, id)
			if errors.Is(err, persona.ErrUnknown) {
				log.Info().Str("playerId", p.ID.String()).Str("personaId", p.PersonaID).Msg("persona no longer exists, skipping ai player")
				snap.skipped++
				continue
			}
			if err != nil {
				return nil, err
			}
			snap.targets = append(snap.targets, target{player: p, persona: per})
		}
		return snap, nil
	})
}

// personalKey returns the host's usable OpenAI key, or nil. A key that no
// longer decrypts is marked invalid.
func (o *Orchestrator) personalKey(ctx context.Context, hostID uuid.UUID) *personalKey {
	if o.Credentials == nil || o.BYOK == nil || hostID == uuid.Nil {
		return nil
	}
	rec, err := o.Credentials.Lookup(ctx, hostID, credentials.ProviderOpenAI)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("userId", hostID.String()).Msg("api key lookup failed")
		}
		return nil
	}
	if !rec.Valid {
		return nil
	}
	plain, err := o.Credentials.Reveal(rec)
	if err != nil {
		log.Error().Err(err).Str("keyId", rec.ID.String()).Msg("stored api key does not decrypt")
		if err := o.Credentials.MarkInvalid(ctx, rec.ID, corruptedKeyReason); err != nil {
			log.Error().Err(err).Str("keyId", rec.ID.String()).Msg("could not invalidate api key")
		}
		return nil
	}
	return &personalKey{id: rec.ID, plain: plain}
}

func (o *Orchestrator) answer(ctx context.Context, gameID uuid.UUID, prompt string, p *persona.Persona, key *personalKey, failed *set.Set[uuid.UUID]) (string, source) {
	text, ok, err := o.Cache.Pick(ctx, prompt, p.ID.String())
	if err != nil {
		log.Warn().Err(err).Msg("response cache read failed")
	}
	if ok {
		o.Metrics.CacheHit()
		return text, fromCache
	}
	o.Metrics.CacheMiss()

	req := ai.Request{
		Model:        o.cfg.Model,
		SystemPrompt: p.SystemPrompt,
		Prompt:       userPrompt(prompt),
		Temperature:  p.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
	}

	if key != nil && !failed.Contains(key.id) {
		req.APIKey = key.plain
		text, err := o.call(ctx, o.BYOK, req, metrics.PathBYOK)
		if err == nil {
			if err := o.Credentials.MarkUsed(ctx, key.id); err != nil {
				log.Warn().Err(err).Str("keyId", key.id.String()).Msg("could not mark api key used")
			}
			return o.nonEmpty(text)
		}
		failed.Insert(key.id)
		f := ai.ClassifyError(err)
		log.Warn().Err(err).Str("keyId", key.id.String()).Str("reason", string(f.Kind)).Msg("personal api key failed, falling back to shared credential")
		if err := o.Credentials.MarkInvalid(ctx, key.id, f.Reason); err != nil {
			log.Error().Err(err).Str("keyId", key.id.String()).Msg("could not invalidate api key")
		}
		req.APIKey = ""
	}

	if o.Limiter.IsLimited(ctx, gameID) {
		o.Metrics.RateLimited()
		o.Metrics.Filler("rate_limited")
		log.Info().Str("gameId", gameID.String()).Msg("game is rate limited, using filler answer")
		return FillerRateLimited, fromFiller
	}
	text, err = o.call(ctx, o.Shared, req, metrics.PathShared)
	if err != nil {
		log.Error().Err(err).Str("persona", p.Name).Msg("provider call failed, using filler answer")
		o.Metrics.Filler("error")
		return FillerError, fromFiller
	}
	return o.nonEmpty(text)
}

func (o *Orchestrator) nonEmpty(text string) (string, source) {
	if text = strings.TrimSpace(text); text == "" {
		o.Metrics.Filler("empty")
		return FillerEmpty, fromFiller
	}
	return text, fromProvider
}

// call makes exactly one provider request under the per-call timeout.
func (o *Orchestrator) call(ctx context.Context, p ai.Provider, req ai.Request, path string) (string, error) {
	if p == nil {
		o.Metrics.ProviderCall(path, "unconfigured")
		return "", fmt.Errorf("no %s provider configured", path)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	ctx, span := o.Tracer.Start(ctx, "Provider.Complete", trace.WithAttributes(attribute.String("provider.path", path)))
	defer span.End()

	start := time.Now()
	text, err := p.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider error")
		o.Metrics.ProviderCall(path, "error")
		return "", err
	}
	o.Metrics.ProviderCall(path, "ok")
	log.Debug().Str("path", path).Dur("dur", time.Since(start)).Msg("provider call")
	return text, nil
}

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
	"github.com/kiliankoe/ai-against-humanity/internal/credentials"
	"github.com/kiliankoe/ai-against-humanity/internal/persona"
	"github.com/kiliankoe/ai-against-humanity/internal/ratelimit"
	"github.com/kiliankoe/ai-against-humanity/internal/respcache"
	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/secrets"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
	"github.com/kiliankoe/ai-against-humanity/internal/store/memstore"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeProvider struct {
	mu    sync.Mutex
	calls []ai.Request
	reply func(req ai.Request) (string, error)
}

func (f *fakeProvider) Complete(_ context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.reply == nil {
		return "", errors.New("no reply configured")
	}
	return f.reply(req)
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func answer(text string) func(ai.Request) (string, error) {
	return func(ai.Request) (string, error) { return text, nil }
}

type fixture struct {
	ctx     context.Context
	st      *memstore.Store
	creds   *credentials.Store
	shared  *fakeProvider
	byok    *fakeProvider
	hostID  uuid.UUID
	game    store.Game
	prompt  store.Card
	judge   store.Player
	ai      []store.Player
	round   *store.Round
	limiter *ratelimit.Limiter
}

// newFixture seats a human judge (the host) and one AI player per persona id
// and opens round 1.
func newFixture(t *testing.T, personaIDs ...string) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		st:     memstore.New(),
		shared: &fakeProvider{},
		byok:   &fakeProvider{},
		hostID: uuid.New(),
	}
	f.creds = credentials.New(f.st, secrets.Load(testKey), nil)
	f.game = store.Game{ID: uuid.New(), Status: store.GamePlaying, PointsToWin: 7, MaxPlayers: 8, HostID: f.hostID, InviteCode: "ORCH23"}
	f.prompt = store.Card{ID: uuid.New(), Type: store.CardPrompt, Text: "What's my secret power?"}

	require.NoError(t, f.st.RunInTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateUser(ctx, &store.User{ID: f.hostID, Username: "host"}))
		require.NoError(t, tx.CreateGame(ctx, &f.game))
		require.NoError(t, tx.InsertCards(ctx, []store.Card{f.prompt}))
		host := f.hostID
		f.judge = store.Player{ID: uuid.New(), GameID: f.game.ID, UserID: &host, IsJudge: true, Seat: 0}
		require.NoError(t, tx.AddPlayer(ctx, &f.judge))
		for i, pid := range personaIDs {
			p := store.Player{ID: uuid.New(), GameID: f.game.ID, IsAI: true, PersonaID: pid, Seat: i + 1}
			require.NoError(t, tx.AddPlayer(ctx, &p))
			f.ai = append(f.ai, p)
		}
		r, err := round.New().Open(ctx, tx, &f.game, &f.judge, &f.prompt)
		require.NoError(t, err)
		f.round = r
		return nil
	}))
	return f
}

func (f *fixture) orchestrator() *Orchestrator {
	o := New(Deps{
		Store:       f.st,
		Credentials: f.creds,
		Limiter:     f.limiter,
		Shared:      f.shared,
		BYOK:        f.byok,
	}, Config{})
	o.pick = func(int) int { return 0 }
	return o
}

func (f *fixture) submissions(t *testing.T) []store.Submission {
	t.Helper()
	subs, err := store.View(f.ctx, f.st, func(ctx context.Context, tx store.Tx) ([]store.Submission, error) {
		return tx.ListSubmissions(ctx, f.round.ID)
	})
	require.NoError(t, err)
	return subs
}

func (f *fixture) roundStatus(t *testing.T) store.RoundStatus {
	t.Helper()
	r, err := store.View(f.ctx, f.st, func(ctx context.Context, tx store.Tx) (*store.Round, error) {
		return tx.GetRound(ctx, f.round.ID)
	})
	require.NoError(t, err)
	return r.Status
}

func TestCacheHitMakesNoProviderCall(t *testing.T) {
	f := newFixture(t, "chaotic-carl")
	cache := respcache.New(f.st)
	require.NoError(t, cache.Put(f.ctx, f.prompt.Text, "chaotic-carl", "A swarm of bees in a trench coat"))

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, f.shared.count())
	assert.Equal(t, 0, f.byok.count())
	assert.Equal(t, 1, out.CacheHits)
	assert.True(t, out.Advanced)

	subs := f.submissions(t)
	require.Len(t, subs, 1)
	assert.Equal(t, "A swarm of bees in a trench coat", subs[0].Text)
	assert.Equal(t, store.RoundJudging, f.roundStatus(t))
}

func TestProviderAnswerIsSubmittedAndCached(t *testing.T) {
	f := newFixture(t, "literal-larry")
	f.shared.reply = answer("  Doing my taxes on time.  ")

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Submitted)

	require.Equal(t, 1, f.shared.count())
	req := f.shared.calls[0]
	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	assert.Empty(t, req.APIKey)
	assert.Contains(t, req.Prompt, `"What's my secret power?"`)
	assert.Contains(t, req.SystemPrompt, "extremely literal")

	assert.Equal(t, "Doing my taxes on time.", f.submissions(t)[0].Text)
	cached, err := respcache.New(f.st).Get(f.ctx, f.prompt.Text, "literal-larry")
	require.NoError(t, err)
	assert.Equal(t, []string{"Doing my taxes on time."}, cached)
}

func TestPersonalKeyFailureFallsBackAndInvalidates(t *testing.T) {
	f := newFixture(t, "chaotic-carl", "edgy-eddie")
	_, err := f.creds.SaveKey(f.ctx, f.hostID, credentials.ProviderOpenAI, "sk-host-revoked")
	require.NoError(t, err)

	f.byok.reply = func(ai.Request) (string, error) {
		return "", &ai.APIError{Provider: "openai", Status: 401, Code: "invalid_api_key"}
	}
	f.shared.reply = func(req ai.Request) (string, error) {
		return "shared answer: " + gofakeit.Word(), nil
	}

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.byok.count(), "a failed personal key is not retried within a run")
	assert.Equal(t, "sk-host-revoked", f.byok.calls[0].APIKey)
	assert.Equal(t, 2, f.shared.count())
	assert.Equal(t, 2, out.Submitted)
	assert.True(t, out.Advanced)
	assert.Equal(t, store.RoundJudging, f.roundStatus(t))

	keys, err := f.creds.ListKeys(f.ctx, f.hostID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].Valid)
	assert.Equal(t, "Invalid or revoked API key", keys[0].LastError)
}

func TestPersonalKeySuccessIsMarkedUsed(t *testing.T) {
	f := newFixture(t, "wholesome-wendy")
	_, err := f.creds.SaveKey(f.ctx, f.hostID, credentials.ProviderOpenAI, "sk-host-good")
	require.NoError(t, err)
	f.byok.reply = answer("Grandma's secret cookie recipe")

	_, err = f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, f.shared.count())
	keys, err := f.creds.ListKeys(f.ctx, f.hostID)
	require.NoError(t, err)
	assert.True(t, keys[0].Valid)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestCorruptedKeyIsInvalidated(t *testing.T) {
	f := newFixture(t, "sophisticated-sophie")
	require.NoError(t, f.st.RunInTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAPIKey(ctx, &store.APIKey{
			ID: uuid.New(), UserID: f.hostID, Provider: credentials.ProviderOpenAI,
			EncryptedKey: "bm90IGEgcmVhbCBibG9iIGF0IGFsbCwgc29ycnk=", Hint: "...junk", Valid: true,
		})
	}))
	f.shared.reply = answer("An existential crisis, but make it fashion")

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Submitted)
	assert.Equal(t, 0, f.byok.count())
	assert.Equal(t, 1, f.shared.count())

	keys, err := f.creds.ListKeys(f.ctx, f.hostID)
	require.NoError(t, err)
	assert.False(t, keys[0].Valid)
	assert.Equal(t, corruptedKeyReason, keys[0].LastError)
}

func TestRateLimitedUsesFillerAndSkipsCache(t *testing.T) {
	f := newFixture(t, "chaotic-carl", "edgy-eddie")
	f.limiter = ratelimit.New(ratelimit.NewMemoryBackend(), ratelimit.Config{PerMinute: 1, PerDay: 100})
	f.shared.reply = answer("first and only")

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.shared.count())
	assert.Equal(t, 1, out.Fillers)

	texts := map[string]bool{}
	for _, s := range f.submissions(t) {
		texts[s.Text] = true
	}
	assert.True(t, texts[FillerRateLimited])
	assert.True(t, texts["first and only"])

	cached, err := respcache.New(f.st).Get(f.ctx, f.prompt.Text, "edgy-eddie")
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestProviderFailureUsesFiller(t *testing.T) {
	f := newFixture(t, "chaotic-carl")
	f.shared.reply = func(ai.Request) (string, error) { return "", errors.New("connection reset") }

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fillers)
	assert.Equal(t, FillerError, f.submissions(t)[0].Text)
	assert.Equal(t, store.RoundJudging, f.roundStatus(t), "a failing provider never stalls the round")
}

func TestEmptyReplyUsesFiller(t *testing.T) {
	f := newFixture(t, "chaotic-carl")
	f.shared.reply = answer("   ")

	_, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, FillerEmpty, f.submissions(t)[0].Text)
}

func TestRunTwiceKeepsOneSubmissionPerPlayer(t *testing.T) {
	f := newFixture(t, "chaotic-carl", "edgy-eddie")
	human := uuid.New()
	require.NoError(t, f.st.RunInTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AddPlayer(ctx, &store.Player{ID: uuid.New(), GameID: f.game.ID, UserID: &human, Seat: 9})
	}))
	f.shared.reply = answer("same")

	o := f.orchestrator()
	first, err := o.Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Submitted)
	assert.False(t, first.Advanced, "the human has not submitted yet")

	second, err := o.Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Submitted)
	assert.Equal(t, 2, f.shared.count())
	assert.Len(t, f.submissions(t), 2)
}

func TestDeletedPersonaIsSkipped(t *testing.T) {
	f := newFixture(t, persona.Custom(uuid.New()).String(), "chaotic-carl")
	f.shared.reply = answer("still here")

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, out.Submitted)
	assert.False(t, out.Advanced)
	assert.Equal(t, store.RoundSubmitting, f.roundStatus(t))
}

func TestRunOnJudgingRoundIsNoop(t *testing.T) {
	f := newFixture(t, "chaotic-carl")
	require.NoError(t, f.st.RunInTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return round.New().MoveToJudging(ctx, tx, f.round.ID)
	}))

	out, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
	assert.Equal(t, 0, f.shared.count())
}

func TestRunUnknownRound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().Run(f.ctx, f.game.ID, uuid.New())
	assert.ErrorIs(t, err, round.ErrRoundNotFound)
}

func judgingFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, "chaotic-carl", "edgy-eddie", "wholesome-wendy")
	replies := []string{"one", "two", "three"}
	i := 0
	f.shared.reply = func(ai.Request) (string, error) {
		r := replies[i]
		i++
		return r, nil
	}
	_, err := f.orchestrator().Run(f.ctx, f.game.ID, f.round.ID)
	require.NoError(t, err)
	require.Equal(t, store.RoundJudging, f.roundStatus(t))
	f.shared.calls = nil
	return f
}

func TestPickWinnerFollowsJudgeReply(t *testing.T) {
	f := judgingFixture(t)
	f.shared.reply = answer("2. Because edgy always wins.")

	winner, err := f.orchestrator().PickWinner(f.ctx, f.round.ID)
	require.NoError(t, err)
	assert.Equal(t, f.submissions(t)[1].PlayerID, winner)

	require.Equal(t, 1, f.shared.count())
	req := f.shared.calls[0]
	assert.Equal(t, judgeMaxTokens, req.MaxTokens)
	assert.Contains(t, req.SystemPrompt, "You are now judging")
	assert.Contains(t, req.Prompt, `1. "one"`)
	assert.Contains(t, req.Prompt, `3. "three"`)
}

func TestPickWinnerFallsBackToRandom(t *testing.T) {
	tests := []struct {
		name  string
		reply func(ai.Request) (string, error)
	}{
		{"no number", answer("They are all hilarious")},
		{"out of range", answer("7")},
		{"provider error", func(ai.Request) (string, error) { return "", errors.New("timeout") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := judgingFixture(t)
			f.shared.reply = tt.reply
			o := f.orchestrator()
			o.pick = func(n int) int { return n - 1 }

			winner, err := o.PickWinner(f.ctx, f.round.ID)
			require.NoError(t, err)
			subs := f.submissions(t)
			assert.Equal(t, subs[len(subs)-1].PlayerID, winner)
		})
	}
}

func TestPickWinnerRequiresJudgingRound(t *testing.T) {
	f := newFixture(t, "chaotic-carl")
	_, err := f.orchestrator().PickWinner(f.ctx, f.round.ID)
	assert.ErrorIs(t, err, round.ErrNotJudging)

	require.NoError(t, f.st.RunInTx(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return round.New().MoveToJudging(ctx, tx, f.round.ID)
	}))
	_, err = f.orchestrator().PickWinner(f.ctx, f.round.ID)
	assert.ErrorIs(t, err, ErrNothingToJudge)
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		reply string
		n     int
		want  int
		ok    bool
	}{
		{"1", 3, 0, true},
		{"3. the last one", 3, 2, true},
		{"  2 - clearly", 3, 1, true},
		{"0", 3, 0, false},
		{"4", 3, 0, false},
		{"Number 2", 3, 0, false},
		{"", 3, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseChoice(tt.reply, tt.n)
		assert.Equal(t, tt.ok, ok, tt.reply)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.reply)
		}
	}
}

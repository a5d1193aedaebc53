package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

func seedGame(t *testing.T, s *Store) (store.Game, store.Player) {
	t.Helper()
	g := store.Game{ID: uuid.New(), Status: store.GameLobby, InviteCode: "ABC234", MaxPlayers: 6, PointsToWin: 5}
	p := store.Player{ID: uuid.New(), GameID: g.ID, Seat: 0, Hand: []uuid.UUID{uuid.New(), uuid.New()}}
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateGame(ctx, &g); err != nil {
			return err
		}
		return tx.AddPlayer(ctx, &p)
	}))
	return g, p
}

func TestRollbackRestoresState(t *testing.T) {
	s := New()
	ctx := context.Background()
	g, p := seedGame(t, s)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		gg, err := tx.GetGame(ctx, g.ID)
		require.NoError(t, err)
		gg.Status = store.GamePlaying
		require.NoError(t, tx.UpdateGame(ctx, gg))

		pp, err := tx.GetPlayer(ctx, p.ID)
		require.NoError(t, err)
		pp.RemoveCard(p.Hand[0])
		pp.Score = 3
		require.NoError(t, tx.UpdatePlayer(ctx, pp))

		require.NoError(t, tx.CreateSubmission(ctx, &store.Submission{ID: uuid.New(), RoundID: uuid.New(), PlayerID: p.ID, Text: "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.View(ctx, s, func(ctx context.Context, tx store.Tx) (*store.Player, error) {
		gg, err := tx.GetGame(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, store.GameLobby, gg.Status)
		return tx.GetPlayer(ctx, p.ID)
	})
	require.NoError(t, err)
	if diff := cmp.Diff(p.Hand, got.Hand); diff != "" {
		t.Errorf("hand mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, got.Score)
}

func TestReadsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, p := seedGame(t, s)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pp, err := tx.GetPlayer(ctx, p.ID)
		require.NoError(t, err)
		pp.Hand[0] = uuid.Nil
		again, err := tx.GetPlayer(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Hand[0], again.Hand[0])
		return nil
	}))
}

func TestUniqueConstraints(t *testing.T) {
	s := New()
	ctx := context.Background()
	g, p := seedGame(t, s)
	roundID := uuid.New()
	userID := uuid.New()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		other := store.Game{ID: uuid.New(), InviteCode: g.InviteCode}
		assert.ErrorIs(t, tx.CreateGame(ctx, &other), store.ErrDuplicate)

		require.NoError(t, tx.CreateSubmission(ctx, &store.Submission{ID: uuid.New(), RoundID: roundID, PlayerID: p.ID, Text: "a"}))
		assert.ErrorIs(t, tx.CreateSubmission(ctx, &store.Submission{ID: uuid.New(), RoundID: roundID, PlayerID: p.ID, Text: "b"}), store.ErrDuplicate)

		require.NoError(t, tx.CreateRound(ctx, &store.Round{ID: uuid.New(), GameID: g.ID, Number: 1}))
		assert.ErrorIs(t, tx.CreateRound(ctx, &store.Round{ID: uuid.New(), GameID: g.ID, Number: 1}), store.ErrDuplicate)

		require.NoError(t, tx.CreatePool(ctx, &store.ResponsePool{ID: uuid.New(), PromptText: "q", PersonaID: "chaotic-carl"}))
		assert.ErrorIs(t, tx.CreatePool(ctx, &store.ResponsePool{ID: uuid.New(), PromptText: "q", PersonaID: "chaotic-carl"}), store.ErrDuplicate)

		require.NoError(t, tx.CreateAPIKey(ctx, &store.APIKey{ID: uuid.New(), UserID: userID, Provider: "openai"}))
		assert.ErrorIs(t, tx.CreateAPIKey(ctx, &store.APIKey{ID: uuid.New(), UserID: userID, Provider: "openai"}), store.ErrDuplicate)
		require.NoError(t, tx.CreateAPIKey(ctx, &store.APIKey{ID: uuid.New(), UserID: userID, Provider: "anthropic"}))
		return nil
	}))
}

func TestListOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	g := store.Game{ID: uuid.New(), InviteCode: "ZZZ999"}
	roundID := uuid.New()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateGame(ctx, &g))
		for _, seat := range []int{2, 0, 1} {
			require.NoError(t, tx.AddPlayer(ctx, &store.Player{ID: uuid.New(), GameID: g.ID, Seat: seat}))
		}
		for _, n := range []int{3, 1, 2} {
			require.NoError(t, tx.CreateRound(ctx, &store.Round{ID: uuid.New(), GameID: g.ID, Number: n}))
		}
		for _, text := range []string{"first", "second", "third"} {
			require.NoError(t, tx.CreateSubmission(ctx, &store.Submission{ID: uuid.New(), RoundID: roundID, PlayerID: uuid.New(), Text: text}))
		}
		return nil
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		players, err := tx.ListPlayers(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, players, 3)
		for i, p := range players {
			assert.Equal(t, i, p.Seat)
		}

		rounds, err := tx.ListRounds(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, rounds, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{rounds[0].Number, rounds[1].Number, rounds[2].Number})

		r2, err := tx.GetRoundByNumber(ctx, g.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, rounds[1].ID, r2.ID)

		subs, err := tx.ListSubmissions(ctx, roundID)
		require.NoError(t, err)
		require.Len(t, subs, 3)
		assert.Equal(t, "first", subs[0].Text)
		assert.Equal(t, "third", subs[2].Text)
		return nil
	}))
}

func TestDeleteAPIKeyFreesProvider(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := uuid.New()
	k := store.APIKey{ID: uuid.New(), UserID: userID, Provider: "openai"}

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateAPIKey(ctx, &k))
		require.NoError(t, tx.DeleteAPIKey(ctx, k.ID))
		_, err := tx.FindAPIKey(ctx, userID, "openai")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return tx.CreateAPIKey(ctx, &store.APIKey{ID: uuid.New(), UserID: userID, Provider: "openai"})
	}))
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().RunInTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestListGamesByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	older := store.Game{ID: uuid.New(), Status: store.GameLobby, InviteCode: "AAA222", CreatedAt: base}
	newer := store.Game{ID: uuid.New(), Status: store.GameLobby, InviteCode: "BBB333", CreatedAt: base.Add(time.Minute)}
	playing := store.Game{ID: uuid.New(), Status: store.GamePlaying, InviteCode: "CCC444", CreatedAt: base}

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, g := range []store.Game{older, playing, newer} {
			require.NoError(t, tx.CreateGame(ctx, &g))
		}
		return nil
	}))

	lobbies, err := store.View(ctx, s, func(ctx context.Context, tx store.Tx) ([]store.Game, error) {
		return tx.ListGames(ctx, store.GameLobby)
	})
	require.NoError(t, err)
	require.Len(t, lobbies, 2)
	assert.Equal(t, newer.ID, lobbies[0].ID)
	assert.Equal(t, older.ID, lobbies[1].ID)
}

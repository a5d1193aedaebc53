package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/persona"
	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

const unknownAI = "Unknown AI"

func (m *Manager) GetGame(ctx context.Context, gameID uuid.UUID) (*State, error) {
	return store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) (*State, error) {
		g, err := getGame(ctx, tx, gameID)
		if err != nil {
			return nil, err
		}
		return loadState(ctx, tx, g)
	})
}

func (m *Manager) GetGameByCode(ctx context.Context, code string) (*State, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	return store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) (*State, error) {
		g, err := tx.GetGameByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		if err != nil {
			return nil, err
		}
		return loadState(ctx, tx, g)
	})
}

// ListLobbies returns joinable games, newest first.
func (m *Manager) ListLobbies(ctx context.Context) ([]Lobby, error) {
	return store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) ([]Lobby, error) {
		games, err := tx.ListGames(ctx, store.GameLobby)
		if err != nil {
			return nil, err
		}
		out := make([]Lobby, 0, len(games))
		for _, g := range games {
			players, err := tx.ListPlayers(ctx, g.ID)
			if err != nil {
				return nil, err
			}
			if len(players) >= g.MaxPlayers {
				continue
			}
			l := Lobby{Game: g, Players: len(players)}
			if host, err := tx.GetUser(ctx, g.HostID); err == nil {
				l.Host = host.Username
			}
			out = append(out, l)
		}
		return out, nil
	})
}

func loadState(ctx context.Context, tx store.Tx, g *store.Game) (*State, error) {
	players, err := tx.ListPlayers(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	st := &State{Game: g, Players: make([]PlayerView, 0, len(players))}
	for _, p := range players {
		v, err := viewPlayer(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		st.Players = append(st.Players, v)
	}
	if g.CurrentRound == 0 {
		return st, nil
	}
	r, err := tx.GetRoundByNumber(ctx, g.ID, g.CurrentRound)
	if errors.Is(err, store.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.Current, err = roundState(ctx, tx, r)
	return st, err
}

func viewPlayer(ctx context.Context, tx store.Tx, p store.Player) (PlayerView, error) {
	v := PlayerView{Player: p, HandSize: len(p.Hand)}
	if p.IsAI {
		v.Name = unknownAI
		id, err := persona.ParseID(p.PersonaID)
		if err != nil {
			return v, nil
		}
		per, err := persona.ResolveTx(ctx, tx, id)
		if errors.Is(err, persona.ErrUnknown) {
			return v, nil
		}
		if err != nil {
			return v, err
		}
		v.Name, v.Emoji = per.Name, per.Emoji
		return v, nil
	}
	if p.UserID != nil {
		u, err := tx.GetUser(ctx, *p.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return v, err
		}
		if u != nil {
			v.Name = u.Username
		}
	}
	return v, nil
}

func roundState(ctx context.Context, tx store.Tx, r *store.Round) (*RoundState, error) {
	prompt, err := tx.GetCard(ctx, r.PromptCardID)
	if err != nil {
		return nil, fmt.Errorf("prompt card: %w", err)
	}
	rs := &RoundState{Round: r, Prompt: prompt, Pending: []uuid.UUID{}}
	if r.Status == store.RoundSubmitting {
		pending, err := round.Pending(ctx, tx, r)
		if err != nil {
			return nil, err
		}
		for _, p := range pending {
			rs.Pending = append(rs.Pending, p.ID)
		}
	}
	return rs, nil
}

func (m *Manager) GetRound(ctx context.Context, roundID uuid.UUID) (*RoundState, error) {
	return store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) (*RoundState, error) {
		r, err := tx.GetRound(ctx, roundID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, round.ErrRoundNotFound
		}
		if err != nil {
			return nil, err
		}
		return roundState(ctx, tx, r)
	})
}

// ListSubmissions returns the round's submissions in the order they were
// made, with card texts filled in.
func (m *Manager) ListSubmissions(ctx context.Context, roundID uuid.UUID) ([]SubmissionView, error) {
	return store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) ([]SubmissionView, error) {
		if _, err := tx.GetRound(ctx, roundID); errors.Is(err, store.ErrNotFound) {
			return nil, round.ErrRoundNotFound
		} else if err != nil {
			return nil, err
		}
		return listSubmissions(ctx, tx, roundID)
	})
}

func listSubmissions(ctx context.Context, tx store.Tx, roundID uuid.UUID) ([]SubmissionView, error) {
	subs, err := tx.ListSubmissions(ctx, roundID)
	if err != nil {
		return nil, err
	}
	out := make([]SubmissionView, 0, len(subs))
	for _, s := range subs {
		v := SubmissionView{Submission: s, Text: s.Text}
		if s.CardID != nil {
			c, err := tx.GetCard(ctx, *s.CardID)
			if err != nil {
				return nil, fmt.Errorf("submission card: %w", err)
			}
			v.Text = c.Text
		}
		out = append(out, v)
	}
	return out, nil
}

// GetHand returns the cards a player holds.
func (m *Manager) GetHand(ctx context.Context, playerID uuid.UUID) ([]store.Card, error) {
	return store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) ([]store.Card, error) {
		p, err := tx.GetPlayer(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, round.ErrPlayerNotFound
		}
		if err != nil {
			return nil, err
		}
		hand := make([]store.Card, 0, len(p.Hand))
		for _, id := range p.Hand {
			c, err := tx.GetCard(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("hand card: %w", err)
			}
			hand = append(hand, *c)
		}
		return hand, nil
	})
}

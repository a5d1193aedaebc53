// Package memstore is an in-process store. Transactions are serialized by a
// single mutex and rolled back by restoring a snapshot taken at the start.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

type poolKey struct {
	prompt  string
	persona string
}

type keyOwner struct {
	user     uuid.UUID
	provider string
}

// Slices held in these maps are never mutated in place; writers store a
// fresh copy so that a snapshot stays valid.
type data struct {
	users       map[uuid.UUID]store.User
	cards       map[uuid.UUID]store.Card
	cardOrder   []uuid.UUID
	games       map[uuid.UUID]store.Game
	codes       map[string]uuid.UUID
	players     map[uuid.UUID]store.Player
	rounds      map[uuid.UUID]store.Round
	roundNums   map[uuid.UUID]map[int]uuid.UUID
	submissions map[uuid.UUID][]store.Submission
	personas    map[uuid.UUID]store.CustomPersona
	pools       map[poolKey]store.ResponsePool
	keys        map[uuid.UUID]store.APIKey
	keyOwners   map[keyOwner]uuid.UUID
}

func newData() data {
	return data{
		users:       map[uuid.UUID]store.User{},
		cards:       map[uuid.UUID]store.Card{},
		games:       map[uuid.UUID]store.Game{},
		codes:       map[string]uuid.UUID{},
		players:     map[uuid.UUID]store.Player{},
		rounds:      map[uuid.UUID]store.Round{},
		roundNums:   map[uuid.UUID]map[int]uuid.UUID{},
		submissions: map[uuid.UUID][]store.Submission{},
		personas:    map[uuid.UUID]store.CustomPersona{},
		pools:       map[poolKey]store.ResponsePool{},
		keys:        map[uuid.UUID]store.APIKey{},
		keyOwners:   map[keyOwner]uuid.UUID{},
	}
}

func (d data) clone() data {
	nums := make(map[uuid.UUID]map[int]uuid.UUID, len(d.roundNums))
	for g, m := range d.roundNums {
		nums[g] = maps.Clone(m)
	}
	return data{
		users:       maps.Clone(d.users),
		cards:       maps.Clone(d.cards),
		cardOrder:   d.cardOrder,
		games:       maps.Clone(d.games),
		codes:       maps.Clone(d.codes),
		players:     maps.Clone(d.players),
		rounds:      maps.Clone(d.rounds),
		roundNums:   nums,
		submissions: maps.Clone(d.submissions),
		personas:    maps.Clone(d.personas),
		pools:       maps.Clone(d.pools),
		keys:        maps.Clone(d.keys),
		keyOwners:   maps.Clone(d.keyOwners),
	}
}

type Store struct {
	mu sync.Mutex
	d  data
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

func New() *Store {
	return &Store{d: newData()}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(ctx, &tx{d: &s.d}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

type tx struct {
	d *data
}

func copyPlayer(p store.Player) *store.Player {
	p.Hand = slices.Clone(p.Hand)
	return &p
}

func copyPool(p store.ResponsePool) *store.ResponsePool {
	p.Responses = slices.Clone(p.Responses)
	return &p
}

// Users

func (t *tx) CreateUser(_ context.Context, u *store.User) error {
	if _, ok := t.d.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	t.d.users[u.ID] = *u
	return nil
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (*store.User, error) {
	u, ok := t.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *tx) UpdateUser(_ context.Context, u *store.User) error {
	if _, ok := t.d.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.users[u.ID] = *u
	return nil
}

// Cards

func (t *tx) InsertCards(_ context.Context, cards []store.Card) error {
	for _, c := range cards {
		if _, ok := t.d.cards[c.ID]; ok {
			return store.ErrDuplicate
		}
	}
	order := slices.Clone(t.d.cardOrder)
	for _, c := range cards {
		t.d.cards[c.ID] = c
		order = append(order, c.ID)
	}
	t.d.cardOrder = order
	return nil
}

func (t *tx) GetCard(_ context.Context, id uuid.UUID) (*store.Card, error) {
	c, ok := t.d.cards[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) ListCards(_ context.Context, typ store.CardType) ([]store.Card, error) {
	var out []store.Card
	for _, id := range t.d.cardOrder {
		if c := t.d.cards[id]; c.Type == typ {
			out = append(out, c)
		}
	}
	return out, nil
}

// Games

func (t *tx) CreateGame(_ context.Context, g *store.Game) error {
	if _, ok := t.d.games[g.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := t.d.codes[g.InviteCode]; ok {
		return store.ErrDuplicate
	}
	t.d.games[g.ID] = *g
	t.d.codes[g.InviteCode] = g.ID
	return nil
}

func (t *tx) GetGame(_ context.Context, id uuid.UUID) (*store.Game, error) {
	g, ok := t.d.games[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &g, nil
}

func (t *tx) GetGameByCode(ctx context.Context, code string) (*store.Game, error) {
	id, ok := t.d.codes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetGame(ctx, id)
}

func (t *tx) UpdateGame(_ context.Context, g *store.Game) error {
	old, ok := t.d.games[g.ID]
	if !ok {
		return store.ErrNotFound
	}
	if old.InviteCode != g.InviteCode {
		if _, taken := t.d.codes[g.InviteCode]; taken {
			return store.ErrDuplicate
		}
		delete(t.d.codes, old.InviteCode)
		t.d.codes[g.InviteCode] = g.ID
	}
	t.d.games[g.ID] = *g
	return nil
}

func (t *tx) ListGames(_ context.Context, status store.GameStatus) ([]store.Game, error) {
	var out []store.Game
	for _, g := range t.d.games {
		if g.Status == status {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b store.Game) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// Players

func (t *tx) AddPlayer(_ context.Context, p *store.Player) error {
	if _, ok := t.d.players[p.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := t.d.games[p.GameID]; !ok {
		return store.ErrNotFound
	}
	t.d.players[p.ID] = *copyPlayer(*p)
	return nil
}

func (t *tx) GetPlayer(_ context.Context, id uuid.UUID) (*store.Player, error) {
	p, ok := t.d.players[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyPlayer(p), nil
}

func (t *tx) ListPlayers(_ context.Context, gameID uuid.UUID) ([]store.Player, error) {
	var out []store.Player
	for _, p := range t.d.players {
		if p.GameID == gameID {
			out = append(out, *copyPlayer(p))
		}
	}
	slices.SortFunc(out, func(a, b store.Player) int { return cmp.Compare(a.Seat, b.Seat) })
	return out, nil
}

func (t *tx) UpdatePlayer(_ context.Context, p *store.Player) error {
	if _, ok := t.d.players[p.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.players[p.ID] = *copyPlayer(*p)
	return nil
}

// Rounds

func (t *tx) CreateRound(_ context.Context, r *store.Round) error {
	if _, ok := t.d.rounds[r.ID]; ok {
		return store.ErrDuplicate
	}
	nums := t.d.roundNums[r.GameID]
	if _, ok := nums[r.Number]; ok {
		return store.ErrDuplicate
	}
	nums = maps.Clone(nums)
	if nums == nil {
		nums = map[int]uuid.UUID{}
	}
	nums[r.Number] = r.ID
	t.d.roundNums[r.GameID] = nums
	t.d.rounds[r.ID] = *r
	return nil
}

func (t *tx) GetRound(_ context.Context, id uuid.UUID) (*store.Round, error) {
	r, ok := t.d.rounds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) GetRoundByNumber(ctx context.Context, gameID uuid.UUID, number int) (*store.Round, error) {
	id, ok := t.d.roundNums[gameID][number]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetRound(ctx, id)
}

func (t *tx) ListRounds(_ context.Context, gameID uuid.UUID) ([]store.Round, error) {
	var out []store.Round
	for _, id := range t.d.roundNums[gameID] {
		out = append(out, t.d.rounds[id])
	}
	slices.SortFunc(out, func(a, b store.Round) int { return cmp.Compare(a.Number, b.Number) })
	return out, nil
}

func (t *tx) UpdateRound(_ context.Context, r *store.Round) error {
	old, ok := t.d.rounds[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	if old.Number != r.Number || old.GameID != r.GameID {
		return store.ErrDuplicate
	}
	t.d.rounds[r.ID] = *r
	return nil
}

// Submissions

func (t *tx) CreateSubmission(_ context.Context, s *store.Submission) error {
	subs := t.d.submissions[s.RoundID]
	for _, existing := range subs {
		if existing.ID == s.ID || existing.PlayerID == s.PlayerID {
			return store.ErrDuplicate
		}
	}
	t.d.submissions[s.RoundID] = append(slices.Clone(subs), *s)
	return nil
}

func (t *tx) ListSubmissions(_ context.Context, roundID uuid.UUID) ([]store.Submission, error) {
	return slices.Clone(t.d.submissions[roundID]), nil
}

// Personas

func (t *tx) CreatePersona(_ context.Context, p *store.CustomPersona) error {
	if _, ok := t.d.personas[p.ID]; ok {
		return store.ErrDuplicate
	}
	t.d.personas[p.ID] = *p
	return nil
}

func (t *tx) GetPersona(_ context.Context, id uuid.UUID) (*store.CustomPersona, error) {
	p, ok := t.d.personas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) UpdatePersona(_ context.Context, p *store.CustomPersona) error {
	if _, ok := t.d.personas[p.ID]; !ok {
		return store.ErrNotFound
	}
	t.d.personas[p.ID] = *p
	return nil
}

func (t *tx) DeletePersona(_ context.Context, id uuid.UUID) error {
	if _, ok := t.d.personas[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.d.personas, id)
	return nil
}

func (t *tx) listPersonas(keep func(store.CustomPersona) bool) []store.CustomPersona {
	var out []store.CustomPersona
	for _, p := range t.d.personas {
		if keep(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b store.CustomPersona) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

func (t *tx) ListPersonasByCreator(_ context.Context, creatorID uuid.UUID) ([]store.CustomPersona, error) {
	return t.listPersonas(func(p store.CustomPersona) bool { return p.CreatorID == creatorID }), nil
}

func (t *tx) ListPublicPersonas(_ context.Context) ([]store.CustomPersona, error) {
	return t.listPersonas(func(p store.CustomPersona) bool { return p.Public }), nil
}

// Response pools

func (t *tx) GetPool(_ context.Context, promptText, personaID string) (*store.ResponsePool, error) {
	p, ok := t.d.pools[poolKey{promptText, personaID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyPool(p), nil
}

func (t *tx) CreatePool(_ context.Context, p *store.ResponsePool) error {
	k := poolKey{p.PromptText, p.PersonaID}
	if _, ok := t.d.pools[k]; ok {
		return store.ErrDuplicate
	}
	t.d.pools[k] = *copyPool(*p)
	return nil
}

func (t *tx) UpdatePool(_ context.Context, p *store.ResponsePool) error {
	k := poolKey{p.PromptText, p.PersonaID}
	old, ok := t.d.pools[k]
	if !ok || old.ID != p.ID {
		return store.ErrNotFound
	}
	t.d.pools[k] = *copyPool(*p)
	return nil
}

// API keys

func (t *tx) CreateAPIKey(_ context.Context, k *store.APIKey) error {
	owner := keyOwner{k.UserID, k.Provider}
	if _, ok := t.d.keyOwners[owner]; ok {
		return store.ErrDuplicate
	}
	if _, ok := t.d.keys[k.ID]; ok {
		return store.ErrDuplicate
	}
	t.d.keys[k.ID] = *k
	t.d.keyOwners[owner] = k.ID
	return nil
}

func (t *tx) GetAPIKey(_ context.Context, id uuid.UUID) (*store.APIKey, error) {
	k, ok := t.d.keys[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &k, nil
}

func (t *tx) FindAPIKey(ctx context.Context, userID uuid.UUID, provider string) (*store.APIKey, error) {
	id, ok := t.d.keyOwners[keyOwner{userID, provider}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetAPIKey(ctx, id)
}

func (t *tx) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]store.APIKey, error) {
	var out []store.APIKey
	for _, k := range t.d.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b store.APIKey) int { return cmp.Compare(a.Provider, b.Provider) })
	return out, nil
}

func (t *tx) UpdateAPIKey(_ context.Context, k *store.APIKey) error {
	old, ok := t.d.keys[k.ID]
	if !ok {
		return store.ErrNotFound
	}
	if old.UserID != k.UserID || old.Provider != k.Provider {
		return store.ErrDuplicate
	}
	t.d.keys[k.ID] = *k
	return nil
}

func (t *tx) DeleteAPIKey(_ context.Context, id uuid.UUID) error {
	k, ok := t.d.keys[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(t.d.keys, id)
	delete(t.d.keyOwners, keyOwner{k.UserID, k.Provider})
	return nil
}

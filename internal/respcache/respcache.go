// Package respcache keeps a small pool of previously generated answers per
// (prompt text, persona) so repeated prompts can skip the provider.
package respcache

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

// MaxPoolSize caps each pool. Pools never evict; further answers are dropped.
const MaxPoolSize = 5

type Cache struct {
	store store.Store
}

func New(s store.Store) *Cache {
	return &Cache{store: s}
}

func (c *Cache) Get(ctx context.Context, prompt, personaID string) ([]string, error) {
	return store.View(ctx, c.store, func(ctx context.Context, tx store.Tx) ([]string, error) {
		return GetTx(ctx, tx, prompt, personaID)
	})
}

func GetTx(ctx context.Context, tx store.Tx, prompt, personaID string) ([]string, error) {
	pool, err := tx.GetPool(ctx, prompt, personaID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pool.Responses, nil
}

// Pick returns a uniformly random cached answer, or false on a miss.
func (c *Cache) Pick(ctx context.Context, prompt, personaID string) (string, bool, error) {
	responses, err := c.Get(ctx, prompt, personaID)
	if err != nil || len(responses) == 0 {
		return "", false, err
	}
	return responses[rand.IntN(len(responses))], true, nil
}

func (c *Cache) Put(ctx context.Context, prompt, personaID, response string) error {
	return c.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return PutTx(ctx, tx, prompt, personaID, response)
	})
}

// PutTx creates the pool, appends a new distinct answer, or does nothing
// when the answer is already present or the pool is full.
func PutTx(ctx context.Context, tx store.Tx, prompt, personaID, response string) error {
	if response == "" {
		return nil
	}
	pool, err := tx.GetPool(ctx, prompt, personaID)
	if errors.Is(err, store.ErrNotFound) {
		return tx.CreatePool(ctx, &store.ResponsePool{
			ID:         uuid.New(),
			PromptText: prompt,
			PersonaID:  personaID,
			Responses:  []string{response},
		})
	}
	if err != nil {
		return err
	}
	if len(pool.Responses) >= MaxPoolSize || slices.Contains(pool.Responses, response) {
		return nil
	}
	pool.Responses = append(slices.Clone(pool.Responses), response)
	return tx.UpdatePool(ctx, pool)
}

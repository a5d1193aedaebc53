// Package persona resolves the built-in and user-authored AI personalities.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/apperr"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

const (
	MaxPerUser      = 10
	MinTemperature  = 0.1
	MaxTemperature  = 1.2
	DefaultEmoji    = "🤖"
	maxName         = 30
	maxPersonality  = 100
	minInstructions = 10
	maxInstructions = 500
)

// Guardrail is prepended to every user-authored system prompt.
const Guardrail = "You are playing a Cards Against Humanity style game. Respond with ONLY your card answer, nothing else. " +
	"Keep it to one short sentence or phrase. Do not include any explanations, disclaimers, or meta-commentary.\n\n" +
	"Your personality: "

var (
	ErrUnknown         = apperr.NotFound("persona not found")
	ErrNotOwner        = apperr.Forbidden("you can only edit your own personas")
	ErrUserNotFound    = apperr.NotFound("user not found")
	ErrTooMany         = apperr.Conflict(fmt.Sprintf("maximum of %d custom personas per user", MaxPerUser))
	ErrName            = apperr.Validation("name must be 1-30 characters")
	ErrPersonality     = apperr.Validation("personality description must be 1-100 characters")
	ErrInstructions    = apperr.Validation("system prompt must be 10-500 characters")
	ErrTemperature     = apperr.Validation(fmt.Sprintf("temperature must be between %.1f and %.1f", MinTemperature, MaxTemperature))
	ErrBuiltInReadOnly = apperr.Validation("built-in personas cannot be modified")
)

type Persona struct {
	ID           ID         `json:"id"`
	Name         string     `json:"name"`
	Personality  string     `json:"personality"`
	SystemPrompt string     `json:"-"`
	Temperature  float64    `json:"temperature"`
	Emoji        string     `json:"emoji"`
	Public       bool       `json:"public"`
	BuiltIn      bool       `json:"builtIn"`
	CreatorID    *uuid.UUID `json:"creatorId,omitempty"`
}

type Input struct {
	Name         string  `json:"name"`
	Personality  string  `json:"personality"`
	Instructions string  `json:"systemPrompt"`
	Temperature  float64 `json:"temperature"`
	Emoji        string  `json:"emoji"`
	Public       bool    `json:"isPublic"`
}

// Patch updates only the non-nil fields.
type Patch struct {
	Name         *string  `json:"name"`
	Personality  *string  `json:"personality"`
	Instructions *string  `json:"systemPrompt"`
	Temperature  *float64 `json:"temperature"`
	Emoji        *string  `json:"emoji"`
	Public       *bool    `json:"isPublic"`
}

type Registry struct {
	store store.Store
	now   func() time.Time
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s, now: time.Now}
}

func fromRecord(r *store.CustomPersona) *Persona {
	creator := r.CreatorID
	return &Persona{
		ID:           Custom(r.ID),
		Name:         r.Name,
		Personality:  r.Personality,
		SystemPrompt: r.SystemPrompt,
		Temperature:  r.Temperature,
		Emoji:        r.Emoji,
		Public:       r.Public,
		CreatorID:    &creator,
	}
}

// Resolve looks up a persona in its own transaction.
func (r *Registry) Resolve(ctx context.Context, id ID) (*Persona, error) {
	return store.View(ctx, r.store, func(ctx context.Context, tx store.Tx) (*Persona, error) {
		return ResolveTx(ctx, tx, id)
	})
}

// ResolveTx looks up a persona inside an existing transaction. Built-in ids
// never touch the store.
func ResolveTx(ctx context.Context, tx store.Tx, id ID) (*Persona, error) {
	if id.IsZero() {
		return nil, ErrUnknown
	}
	if !id.IsCustom() {
		p, ok := builtInBySlug[id.Slug()]
		if !ok {
			return nil, ErrUnknown
		}
		return &p, nil
	}
	rec, err := tx.GetPersona(ctx, id.UUID())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func validName(s string) bool { return runeLen(strings.TrimSpace(s)) >= 1 && runeLen(s) <= maxName }
func validPersonality(s string) bool {
	return runeLen(strings.TrimSpace(s)) >= 1 && runeLen(s) <= maxPersonality
}
func validInstructions(s string) bool {
	return runeLen(strings.TrimSpace(s)) >= minInstructions && runeLen(s) <= maxInstructions
}
func validTemperature(t float64) bool { return t >= MinTemperature && t <= MaxTemperature }

func (in Input) validate() error {
	switch {
	case !validName(in.Name):
		return ErrName
	case !validPersonality(in.Personality):
		return ErrPersonality
	case !validInstructions(in.Instructions):
		return ErrInstructions
	case !validTemperature(in.Temperature):
		return ErrTemperature
	}
	return nil
}

func (r *Registry) Create(ctx context.Context, creatorID uuid.UUID, in Input) (*Persona, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *Persona
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetUser(ctx, creatorID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		existing, err := tx.ListPersonasByCreator(ctx, creatorID)
		if err != nil {
			return err
		}
		if len(existing) >= MaxPerUser {
			return ErrTooMany
		}
		emoji := in.Emoji
		if emoji == "" {
			emoji = DefaultEmoji
		}
		rec := &store.CustomPersona{
			ID:           uuid.New(),
			CreatorID:    creatorID,
			Name:         strings.TrimSpace(in.Name),
			Personality:  strings.TrimSpace(in.Personality),
			SystemPrompt: Guardrail + in.Instructions,
			Temperature:  in.Temperature,
			Emoji:        emoji,
			Public:       in.Public,
			CreatedAt:    r.now(),
		}
		if err := tx.CreatePersona(ctx, rec); err != nil {
			return err
		}
		out = fromRecord(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) ownedTx(ctx context.Context, tx store.Tx, id ID, userID uuid.UUID) (*store.CustomPersona, error) {
	if !id.IsCustom() {
		if _, ok := builtInBySlug[id.Slug()]; ok {
			return nil, ErrBuiltInReadOnly
		}
		return nil, ErrUnknown
	}
	rec, err := tx.GetPersona(ctx, id.UUID())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, err
	}
	if rec.CreatorID != userID {
		return nil, ErrNotOwner
	}
	return rec, nil
}

func (r *Registry) Update(ctx context.Context, id ID, userID uuid.UUID, p Patch) (*Persona, error) {
	var out *Persona
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := r.ownedTx(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if p.Name != nil {
			if !validName(*p.Name) {
				return ErrName
			}
			rec.Name = strings.TrimSpace(*p.Name)
		}
		if p.Personality != nil {
			if !validPersonality(*p.Personality) {
				return ErrPersonality
			}
			rec.Personality = strings.TrimSpace(*p.Personality)
		}
		if p.Instructions != nil {
			if !validInstructions(*p.Instructions) {
				return ErrInstructions
			}
			rec.SystemPrompt = Guardrail + *p.Instructions
		}
		if p.Temperature != nil {
			if !validTemperature(*p.Temperature) {
				return ErrTemperature
			}
			rec.Temperature = *p.Temperature
		}
		if p.Emoji != nil {
			rec.Emoji = *p.Emoji
		}
		if p.Public != nil {
			rec.Public = *p.Public
		}
		if err := tx.UpdatePersona(ctx, rec); err != nil {
			return err
		}
		out = fromRecord(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the persona. AI players that referenced it stay seated and
// are skipped by the orchestrator.
func (r *Registry) Delete(ctx context.Context, id ID, userID uuid.UUID) error {
	return r.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := r.ownedTx(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		return tx.DeletePersona(ctx, rec.ID)
	})
}

func (r *Registry) ListMine(ctx context.Context, userID uuid.UUID) ([]Persona, error) {
	return r.list(ctx, func(ctx context.Context, tx store.Tx) ([]store.CustomPersona, error) {
		return tx.ListPersonasByCreator(ctx, userID)
	})
}

func (r *Registry) ListPublic(ctx context.Context) ([]Persona, error) {
	return r.list(ctx, func(ctx context.Context, tx store.Tx) ([]store.CustomPersona, error) {
		return tx.ListPublicPersonas(ctx)
	})
}

func (r *Registry) list(ctx context.Context, q func(context.Context, store.Tx) ([]store.CustomPersona, error)) ([]Persona, error) {
	recs, err := store.View(ctx, r.store, q)
	if err != nil {
		return nil, err
	}
	out := make([]Persona, 0, len(recs))
	for i := range recs {
		out = append(out, *fromRecord(&recs[i]))
	}
	return out, nil
}

// Package credentials stores users' own provider API keys encrypted at rest.
package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
	"github.com/kiliankoe/ai-against-humanity/internal/apperr"
	"github.com/kiliankoe/ai-against-humanity/internal/secrets"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var (
	ErrUserNotFound     = apperr.NotFound("user not found")
	ErrKeyNotFound      = apperr.NotFound("api key not found")
	ErrUnknownProvider  = apperr.Validation("unsupported provider")
	ErrBadFormat        = apperr.Validation("api key has the wrong format for this provider")
	ErrEncryptionConfig = apperr.Validation("server cannot store api keys: encryption is not configured")
)

// KeyCheckError is returned by SaveKey when the provider rejected the key.
type KeyCheckError struct {
	Failure ai.Failure
	Err     error
}

func (e *KeyCheckError) Error() string { return e.Failure.Reason }
func (e *KeyCheckError) Unwrap() error { return e.Err }

// KeyInfo is the listing shape; it never carries the encrypted payload.
type KeyInfo struct {
	ID          uuid.UUID  `json:"id"`
	Provider    string     `json:"provider"`
	Hint        string     `json:"hint"`
	Valid       bool       `json:"isValid"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	LastErrorAt *time.Time `json:"lastErrorAt,omitempty"`
}

type Store struct {
	store    store.Store
	cipher   *secrets.Cipher
	checkers map[string]ai.KeyChecker
	now      func() time.Time
}

// New builds a credential store. Providers without a checker skip the live
// validation step.
func New(s store.Store, c *secrets.Cipher, checkers map[string]ai.KeyChecker) *Store {
	if checkers == nil {
		checkers = map[string]ai.KeyChecker{}
	}
	return &Store{store: s, cipher: c, checkers: checkers, now: time.Now}
}

func checkFormat(provider, key string) error {
	switch provider {
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return ErrBadFormat
		}
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return ErrBadFormat
		}
	default:
		return ErrUnknownProvider
	}
	return nil
}

// Hint renders the last four characters as "...XXXX".
func Hint(key string) string {
	r := []rune(key)
	if len(r) <= 4 {
		return "..." + key
	}
	return "..." + string(r[len(r)-4:])
}

// SaveKey validates, encrypts and stores a key, replacing any earlier key
// the user had for the provider.
func (s *Store) SaveKey(ctx context.Context, userID uuid.UUID, provider, rawKey string) (string, error) {
	rawKey = strings.TrimSpace(rawKey)
	if err := s.requireUser(ctx, userID); err != nil {
		return "", err
	}
	if err := checkFormat(provider, rawKey); err != nil {
		return "", err
	}
	if err := s.cipher.Ready(); err != nil {
		log.Error().Err(err).Msg("api key storage unavailable")
		return "", ErrEncryptionConfig
	}
	if checker, ok := s.checkers[provider]; ok {
		if err := checker.CheckKey(ctx, rawKey); err != nil {
			f := ai.ClassifyError(err)
			log.Info().Str("userId", userID.String()).Str("provider", provider).Str("reason", string(f.Kind)).Msg("api key rejected")
			return "", &KeyCheckError{Failure: f, Err: err}
		}
	}
	blob, err := s.cipher.Encrypt(rawKey)
	if err != nil {
		return "", err
	}
	hint := Hint(rawKey)

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindAPIKey(ctx, userID, provider)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return tx.CreateAPIKey(ctx, &store.APIKey{
				ID:           uuid.New(),
				UserID:       userID,
				Provider:     provider,
				EncryptedKey: blob,
				Hint:         hint,
				Valid:        true,
				CreatedAt:    s.now(),
			})
		case err != nil:
			return err
		}
		existing.EncryptedKey = blob
		existing.Hint = hint
		existing.Valid = true
		existing.CreatedAt = s.now()
		existing.LastUsedAt = nil
		existing.LastError = ""
		existing.LastErrorAt = nil
		return tx.UpdateAPIKey(ctx, existing)
	})
	if err != nil {
		return "", err
	}
	return hint, nil
}

func (s *Store) requireUser(ctx context.Context, userID uuid.UUID) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	})
}

func (s *Store) DeleteKey(ctx context.Context, userID, keyID uuid.UUID) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		k, err := tx.GetAPIKey(ctx, keyID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && k.UserID != userID) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		return tx.DeleteAPIKey(ctx, keyID)
	})
}

func (s *Store) ListKeys(ctx context.Context, userID uuid.UUID) ([]KeyInfo, error) {
	keys, err := store.View(ctx, s.store, func(ctx context.Context, tx store.Tx) ([]store.APIKey, error) {
		return tx.ListAPIKeys(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyInfo{
			ID:          k.ID,
			Provider:    k.Provider,
			Hint:        k.Hint,
			Valid:       k.Valid,
			CreatedAt:   k.CreatedAt,
			LastUsedAt:  k.LastUsedAt,
			LastError:   k.LastError,
			LastErrorAt: k.LastErrorAt,
		})
	}
	return out, nil
}

func (s *Store) MarkInvalid(ctx context.Context, keyID uuid.UUID, reason string) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		k, err := tx.GetAPIKey(ctx, keyID)
		if err != nil {
			return err
		}
		now := s.now()
		k.Valid = false
		k.LastError = reason
		k.LastErrorAt = &now
		return tx.UpdateAPIKey(ctx, k)
	})
}

func (s *Store) MarkUsed(ctx context.Context, keyID uuid.UUID) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		k, err := tx.GetAPIKey(ctx, keyID)
		if err != nil {
			return err
		}
		now := s.now()
		k.LastUsedAt = &now
		return tx.UpdateAPIKey(ctx, k)
	})
}

// Lookup returns the user's stored record for provider, or store.ErrNotFound.
func (s *Store) Lookup(ctx context.Context, userID uuid.UUID, provider string) (*store.APIKey, error) {
	return store.View(ctx, s.store, func(ctx context.Context, tx store.Tx) (*store.APIKey, error) {
		return tx.FindAPIKey(ctx, userID, provider)
	})
}

// Reveal decrypts a stored key for an outbound provider call.
func (s *Store) Reveal(k *store.APIKey) (string, error) {
	return s.cipher.Decrypt(k.EncryptedKey)
}

// HasValidKey reports whether the user holds a currently valid key.
func HasValidKey(ctx context.Context, tx store.Tx, userID uuid.UUID, provider string) (bool, error) {
	k, err := tx.FindAPIKey(ctx, userID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return k.Valid, nil
}

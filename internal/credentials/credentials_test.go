package credentials

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
	"github.com/kiliankoe/ai-against-humanity/internal/secrets"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
	"github.com/kiliankoe/ai-against-humanity/internal/store/memstore"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeChecker struct {
	err   error
	calls []string
}

func (f *fakeChecker) CheckKey(_ context.Context, key string) error {
	f.calls = append(f.calls, key)
	return f.err
}

func setup(t *testing.T) (*Store, *memstore.Store, *fakeChecker, uuid.UUID) {
	t.Helper()
	ms := memstore.New()
	userID := uuid.New()
	require.NoError(t, ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, &store.User{ID: userID, Username: "byok"})
	}))
	checker := &fakeChecker{}
	return New(ms, secrets.Load(testKey), map[string]ai.KeyChecker{ProviderOpenAI: checker}), ms, checker, userID
}

func TestSaveKeyStoresEncrypted(t *testing.T) {
	s, ms, checker, userID := setup(t)
	ctx := context.Background()

	hint, err := s.SaveKey(ctx, userID, ProviderOpenAI, "sk-test-abcdefWXYZ")
	require.NoError(t, err)
	assert.Equal(t, "...WXYZ", hint)
	assert.Equal(t, []string{"sk-test-abcdefWXYZ"}, checker.calls)

	rec, err := s.Lookup(ctx, userID, ProviderOpenAI)
	require.NoError(t, err)
	assert.True(t, rec.Valid)
	assert.NotContains(t, rec.EncryptedKey, "sk-test")

	plain, err := s.Reveal(rec)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-abcdefWXYZ", plain)

	require.NoError(t, ms.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := HasValidKey(ctx, tx, userID, ProviderOpenAI)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))
}

func TestSaveKeyReplacesExisting(t *testing.T) {
	s, _, _, userID := setup(t)
	ctx := context.Background()

	_, err := s.SaveKey(ctx, userID, ProviderOpenAI, "sk-first-1111")
	require.NoError(t, err)
	first, err := s.Lookup(ctx, userID, ProviderOpenAI)
	require.NoError(t, err)
	require.NoError(t, s.MarkInvalid(ctx, first.ID, "Invalid or revoked API key"))

	_, err = s.SaveKey(ctx, userID, ProviderOpenAI, "sk-second-2222")
	require.NoError(t, err)

	keys, err := s.ListKeys(ctx, userID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "...2222", keys[0].Hint)
	assert.True(t, keys[0].Valid)
	assert.Empty(t, keys[0].LastError)
}

func TestSaveKeyRejections(t *testing.T) {
	s, _, checker, userID := setup(t)
	ctx := context.Background()

	_, err := s.SaveKey(ctx, userID, ProviderOpenAI, "pk-wrong-prefix")
	assert.ErrorIs(t, err, ErrBadFormat)

	_, err = s.SaveKey(ctx, userID, ProviderAnthropic, "sk-not-anthropic")
	assert.ErrorIs(t, err, ErrBadFormat)

	_, err = s.SaveKey(ctx, userID, "mistral", "sk-whatever")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = s.SaveKey(ctx, uuid.New(), ProviderOpenAI, "sk-orphan")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.SaveKey(ctx, uuid.New(), ProviderOpenAI, "pk-orphan-and-wrong")
	assert.ErrorIs(t, err, ErrUserNotFound, "unknown users are reported before the key format")

	assert.Empty(t, checker.calls, "format and ownership checks come before the live check")
}

func TestHint(t *testing.T) {
	assert.Equal(t, "...1234", Hint("sk-test-1234"))
	assert.Equal(t, "...abc", Hint("abc"))
	assert.Equal(t, "...ä€ßö", Hint("sk-schlüssel-ä€ßö"))
	assert.True(t, utf8.ValidString(Hint("sk-€€€€€")))
}

func TestSaveKeyLiveCheckFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   ai.FailureKind
		reason string
	}{
		{"revoked", &ai.APIError{Provider: "openai", Status: 401}, ai.FailureInvalidKey, "Invalid or revoked API key"},
		{"rate limited", &ai.APIError{Provider: "openai", Status: 429}, ai.FailureRateLimited, "Rate limit exceeded on your API key"},
		{"forbidden", &ai.APIError{Provider: "openai", Status: 403}, ai.FailureForbidden, "API key does not have required permissions"},
		{"quota", &ai.APIError{Provider: "openai", Status: 429, Code: "insufficient_quota"}, ai.FailureQuota, "API key has exhausted its quota"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, checker, userID := setup(t)
			checker.err = tt.err

			_, err := s.SaveKey(context.Background(), userID, ProviderOpenAI, "sk-live-check")
			var kce *KeyCheckError
			require.ErrorAs(t, err, &kce)
			assert.Equal(t, tt.kind, kce.Failure.Kind)
			assert.Equal(t, tt.reason, err.Error())

			_, err = s.Lookup(context.Background(), userID, ProviderOpenAI)
			assert.ErrorIs(t, err, store.ErrNotFound, "rejected keys are not stored")
		})
	}
}

func TestAnthropicSkipsLiveCheck(t *testing.T) {
	s, _, checker, userID := setup(t)
	hint, err := s.SaveKey(context.Background(), userID, ProviderAnthropic, "sk-ant-api03-abcd")
	require.NoError(t, err)
	assert.Equal(t, "...abcd", hint)
	assert.Empty(t, checker.calls)
}

func TestMissingEncryptionKey(t *testing.T) {
	ms := memstore.New()
	userID := uuid.New()
	require.NoError(t, ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, &store.User{ID: userID})
	}))
	s := New(ms, secrets.Load(""), nil)
	_, err := s.SaveKey(context.Background(), userID, ProviderOpenAI, "sk-anything")
	assert.ErrorIs(t, err, ErrEncryptionConfig)
}

func TestDeleteKeyOwnership(t *testing.T) {
	s, _, _, userID := setup(t)
	ctx := context.Background()

	_, err := s.SaveKey(ctx, userID, ProviderOpenAI, "sk-delete-me")
	require.NoError(t, err)
	rec, err := s.Lookup(ctx, userID, ProviderOpenAI)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteKey(ctx, uuid.New(), rec.ID), ErrKeyNotFound)
	assert.ErrorIs(t, s.DeleteKey(ctx, userID, uuid.New()), ErrKeyNotFound)
	require.NoError(t, s.DeleteKey(ctx, userID, rec.ID))

	keys, err := s.ListKeys(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMarkUsedAndInvalid(t *testing.T) {
	s, _, _, userID := setup(t)
	ctx := context.Background()
	_, err := s.SaveKey(ctx, userID, ProviderOpenAI, "sk-usage")
	require.NoError(t, err)
	rec, err := s.Lookup(ctx, userID, ProviderOpenAI)
	require.NoError(t, err)

	require.NoError(t, s.MarkUsed(ctx, rec.ID))
	require.NoError(t, s.MarkInvalid(ctx, rec.ID, "API key has exhausted its quota"))

	keys, err := s.ListKeys(ctx, userID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
	assert.False(t, keys[0].Valid)
	assert.True(t, strings.Contains(keys[0].LastError, "quota"))
	assert.NotNil(t, keys[0].LastErrorAt)
}

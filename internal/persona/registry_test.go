package persona

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/ai-against-humanity/internal/store"
	"github.com/kiliankoe/ai-against-humanity/internal/store/memstore"
)

func newRegistry(t *testing.T) (*Registry, uuid.UUID) {
	t.Helper()
	s := memstore.New()
	userID := uuid.New()
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, &store.User{ID: userID, Username: "creator"})
	}))
	return NewRegistry(s), userID
}

func validInput() Input {
	return Input{
		Name:         "Pirate Pete",
		Personality:  "Talks like a pirate",
		Instructions: "Answer everything as a grumpy pirate captain.",
		Temperature:  0.8,
	}
}

func TestParseID(t *testing.T) {
	u := uuid.New()
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{in: "chaotic-carl", want: BuiltIn("chaotic-carl")},
		{in: "custom:" + u.String(), want: Custom(u)},
		{in: "custom:not-a-uuid", wantErr: true},
		{in: "custom:", wantErr: true},
		{in: "", wantErr: true},
		{in: "weird:thing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestIDJSON(t *testing.T) {
	u := uuid.New()
	b, err := json.Marshal(struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}{BuiltIn("edgy-eddie"), Custom(u)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"edgy-eddie","b":"custom:`+u.String()+`"}`, string(b))

	var back struct {
		B ID `json:"b"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Custom(u), back.B)
}

func TestBuiltIns(t *testing.T) {
	all := BuiltIns()
	require.Len(t, all, 5)
	want := map[string]float64{
		"chaotic-carl":         1.0,
		"sophisticated-sophie": 0.7,
		"edgy-eddie":           0.9,
		"wholesome-wendy":      0.5,
		"literal-larry":        0.3,
	}
	for _, p := range all {
		assert.True(t, p.BuiltIn)
		assert.InDelta(t, want[p.ID.Slug()], p.Temperature, 1e-9, p.ID.Slug())
		assert.Contains(t, p.SystemPrompt, "Respond with ONLY your card answer")
	}

	all[0].Name = "mutated"
	assert.Equal(t, "Chaotic Carl", BuiltIns()[0].Name)
}

func TestResolve(t *testing.T) {
	r, userID := newRegistry(t)
	ctx := context.Background()

	p, err := r.Resolve(ctx, BuiltIn("literal-larry"))
	require.NoError(t, err)
	assert.Equal(t, "Literal Larry", p.Name)

	_, err = r.Resolve(ctx, BuiltIn("nobody"))
	assert.ErrorIs(t, err, ErrUnknown)

	_, err = r.Resolve(ctx, Custom(uuid.New()))
	assert.ErrorIs(t, err, ErrUnknown)

	created, err := r.Create(ctx, userID, validInput())
	require.NoError(t, err)
	got, err := r.Resolve(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pirate Pete", got.Name)
	assert.True(t, strings.HasPrefix(got.SystemPrompt, Guardrail))
	assert.True(t, strings.HasSuffix(got.SystemPrompt, validInput().Instructions))
	assert.Equal(t, DefaultEmoji, got.Emoji)
}

func TestCreateValidation(t *testing.T) {
	r, userID := newRegistry(t)
	ctx := context.Background()

	mutate := func(f func(*Input)) Input {
		in := validInput()
		f(&in)
		return in
	}
	tests := []struct {
		name string
		in   Input
		want error
	}{
		{"empty name", mutate(func(in *Input) { in.Name = "   " }), ErrName},
		{"long name", mutate(func(in *Input) { in.Name = strings.Repeat("a", 31) }), ErrName},
		{"empty personality", mutate(func(in *Input) { in.Personality = "" }), ErrPersonality},
		{"long personality", mutate(func(in *Input) { in.Personality = strings.Repeat("a", 101) }), ErrPersonality},
		{"short prompt", mutate(func(in *Input) { in.Instructions = "too short" }), ErrInstructions},
		{"long prompt", mutate(func(in *Input) { in.Instructions = strings.Repeat("a", 501) }), ErrInstructions},
		{"cold", mutate(func(in *Input) { in.Temperature = 0.05 }), ErrTemperature},
		{"hot", mutate(func(in *Input) { in.Temperature = 1.3 }), ErrTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(ctx, userID, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	edge := validInput()
	edge.Temperature = MaxTemperature
	edge.Name = strings.Repeat("n", 30)
	_, err := r.Create(ctx, userID, edge)
	assert.NoError(t, err)
}

func TestCreateRequiresUserAndCap(t *testing.T) {
	r, userID := newRegistry(t)
	ctx := context.Background()
	faker := gofakeit.New(7)

	_, err := r.Create(ctx, uuid.New(), validInput())
	assert.ErrorIs(t, err, ErrUserNotFound)

	for i := 0; i < MaxPerUser; i++ {
		in := validInput()
		in.Name = faker.FirstName()
		_, err := r.Create(ctx, userID, in)
		require.NoError(t, err)
	}
	_, err = r.Create(ctx, userID, validInput())
	assert.ErrorIs(t, err, ErrTooMany)

	mine, err := r.ListMine(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, mine, MaxPerUser)
}

func TestUpdateAndDeleteOwnership(t *testing.T) {
	r, userID := newRegistry(t)
	ctx := context.Background()

	p, err := r.Create(ctx, userID, validInput())
	require.NoError(t, err)

	name := "Captain Pete"
	_, err = r.Update(ctx, p.ID, uuid.New(), Patch{Name: &name})
	assert.ErrorIs(t, err, ErrNotOwner)

	hot := 2.0
	_, err = r.Update(ctx, p.ID, userID, Patch{Temperature: &hot})
	assert.ErrorIs(t, err, ErrTemperature)

	public := true
	prompt := "Only speak in sea shanty lyrics, please."
	updated, err := r.Update(ctx, p.ID, userID, Patch{Name: &name, Public: &public, Instructions: &prompt})
	require.NoError(t, err)
	assert.Equal(t, "Captain Pete", updated.Name)
	assert.Equal(t, Guardrail+prompt, updated.SystemPrompt)
	assert.InDelta(t, 0.8, updated.Temperature, 1e-9)

	pub, err := r.ListPublic(ctx)
	require.NoError(t, err)
	require.Len(t, pub, 1)

	_, err = r.Update(ctx, BuiltIn("chaotic-carl"), userID, Patch{Name: &name})
	assert.ErrorIs(t, err, ErrBuiltInReadOnly)

	assert.ErrorIs(t, r.Delete(ctx, p.ID, uuid.New()), ErrNotOwner)
	require.NoError(t, r.Delete(ctx, p.ID, userID))
	_, err = r.Resolve(ctx, p.ID)
	assert.ErrorIs(t, err, ErrUnknown)
	assert.ErrorIs(t, r.Delete(ctx, p.ID, userID), ErrUnknown)
}

func TestRejectedUpdateLeavesPersonaUnchanged(t *testing.T) {
	r, userID := newRegistry(t)
	ctx := context.Background()
	p, err := r.Create(ctx, userID, validInput())
	require.NoError(t, err)

	name := gofakeit.FirstName()
	tooHot := 1.5
	_, err = r.Update(ctx, p.ID, userID, Patch{Name: &name, Temperature: &tooHot})
	assert.ErrorIs(t, err, ErrTemperature)

	got, err := r.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pirate Pete", got.Name)
	assert.InDelta(t, 0.8, got.Temperature, 1e-9)

	updated, err := r.Update(ctx, p.ID, userID, Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
}

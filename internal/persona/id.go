package persona

import (
	"strings"

	"github.com/google/uuid"

	"github.com/kiliankoe/ai-against-humanity/internal/apperr"
)

const customPrefix = "custom:"

var ErrMalformedID = apperr.Validation("malformed persona id")

// ID names either a built-in persona by slug or a stored custom persona.
// The zero value is invalid.
type ID struct {
	slug   string
	custom uuid.UUID
}

func BuiltIn(slug string) ID { return ID{slug: slug} }

func Custom(id uuid.UUID) ID { return ID{custom: id} }

func (id ID) IsZero() bool   { return id.slug == "" && id.custom == uuid.Nil }
func (id ID) IsCustom() bool { return id.custom != uuid.Nil }

// Slug is empty for custom ids.
func (id ID) Slug() string { return id.slug }

// UUID is uuid.Nil for built-in ids.
func (id ID) UUID() uuid.UUID { return id.custom }

func (id ID) String() string {
	if id.IsCustom() {
		return customPrefix + id.custom.String()
	}
	return id.slug
}

func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, customPrefix); ok {
		u, err := uuid.Parse(rest)
		if err != nil || u == uuid.Nil {
			return ID{}, ErrMalformedID
		}
		return Custom(u), nil
	}
	if s == "" || strings.ContainsAny(s, ": \t") {
		return ID{}, ErrMalformedID
	}
	return BuiltIn(s), nil
}

func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

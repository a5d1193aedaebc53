// Package cards loads prompt and response card packs and seeds them into the
// store.
package cards

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

//go:embed base.yaml
var basePack []byte

const BasePackSlug = "base"

var ErrEmptyPack = errors.New("card pack has no prompts or no responses")

type Pack struct {
	Slug        string   `yaml:"slug"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Prompts     []string `yaml:"prompts"`
	Responses   []string `yaml:"responses"`
}

func Parse(b []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse card pack: %w", err)
	}
	p.Prompts = clean(p.Prompts)
	p.Responses = clean(p.Responses)
	if len(p.Prompts) == 0 || len(p.Responses) == 0 {
		return nil, ErrEmptyPack
	}
	return &p, nil
}

// Base returns the pack compiled into the binary.
func Base() *Pack {
	p, err := Parse(basePack)
	if err != nil {
		panic(err)
	}
	p.Slug = BasePackSlug
	return p
}

func Load(path string) (*Pack, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Slug == "" {
		p.Slug = slugify(p.Name)
	}
	return p, nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "custom"
	}
	return s
}

// Seed inserts the pack's cards, skipping any (type, text) already stored.
// It returns the number of cards inserted.
func Seed(ctx context.Context, s store.Store, p *Pack) (int, error) {
	inserted := 0
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var batch []store.Card
		for _, typ := range []store.CardType{store.CardPrompt, store.CardResponse} {
			existing, err := tx.ListCards(ctx, typ)
			if err != nil {
				return err
			}
			seen := make(map[string]bool, len(existing))
			for _, c := range existing {
				seen[c.Text] = true
			}
			texts := p.Prompts
			if typ == store.CardResponse {
				texts = p.Responses
			}
			for _, t := range texts {
				if seen[t] {
					continue
				}
				seen[t] = true
				batch = append(batch, store.Card{ID: uuid.New(), Type: typ, Text: t, Pack: p.Slug})
			}
		}
		if len(batch) == 0 {
			return nil
		}
		inserted = len(batch)
		return tx.InsertCards(ctx, batch)
	})
	if err != nil {
		return 0, err
	}
	log.Info().Str("pack", p.Slug).Int("inserted", inserted).Msg("card pack seeded")
	return inserted, nil
}

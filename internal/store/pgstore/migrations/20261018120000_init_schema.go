package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS users (
					id            UUID PRIMARY KEY,
					username      TEXT NOT NULL,
					games_played  INTEGER NOT NULL DEFAULT 0,
					games_won     INTEGER NOT NULL DEFAULT 0,
					created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS cards (
					id    UUID PRIMARY KEY,
					type  TEXT NOT NULL CHECK (type IN ('prompt', 'response')),
					text  TEXT NOT NULL,
					pack  TEXT NOT NULL DEFAULT 'base'
				);
				CREATE INDEX IF NOT EXISTS idx_cards_type ON cards(type);

				CREATE TABLE IF NOT EXISTS games (
					id             UUID PRIMARY KEY,
					status         TEXT NOT NULL,
					game_mode      TEXT NOT NULL,
					max_players    INTEGER NOT NULL,
					points_to_win  INTEGER NOT NULL,
					current_round  INTEGER NOT NULL DEFAULT 0,
					host_id        UUID NOT NULL REFERENCES users(id),
					invite_code    TEXT NOT NULL UNIQUE,
					created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS players (
					id          UUID PRIMARY KEY,
					game_id     UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
					user_id     UUID REFERENCES users(id),
					persona_id  TEXT,
					is_ai       BOOLEAN NOT NULL,
					score       INTEGER NOT NULL DEFAULT 0,
					is_judge    BOOLEAN NOT NULL DEFAULT false,
					hand        JSONB NOT NULL DEFAULT '[]',
					seat        INTEGER NOT NULL,
					joined_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (game_id, seat)
				);
				CREATE INDEX IF NOT EXISTS idx_players_game_id ON players(game_id);

				CREATE TABLE IF NOT EXISTS rounds (
					id                UUID PRIMARY KEY,
					game_id           UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
					number            INTEGER NOT NULL,
					prompt_card_id    UUID NOT NULL REFERENCES cards(id),
					judge_player_id   UUID NOT NULL REFERENCES players(id),
					winner_player_id  UUID REFERENCES players(id),
					status            TEXT NOT NULL,
					created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (game_id, number)
				);

				CREATE TABLE IF NOT EXISTS submissions (
					id          UUID PRIMARY KEY,
					round_id    UUID NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
					player_id   UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
					card_id     UUID REFERENCES cards(id),
					text        TEXT,
					created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (round_id, player_id),
					CHECK ((card_id IS NULL) <> (COALESCE(text, '') = ''))
				);

				CREATE TABLE IF NOT EXISTS custom_personas (
					id             UUID PRIMARY KEY,
					creator_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					name           TEXT NOT NULL,
					personality    TEXT NOT NULL,
					system_prompt  TEXT NOT NULL,
					temperature    DOUBLE PRECISION NOT NULL,
					emoji          TEXT NOT NULL,
					public         BOOLEAN NOT NULL DEFAULT false,
					created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_custom_personas_creator ON custom_personas(creator_id);

				CREATE TABLE IF NOT EXISTS response_pools (
					id           UUID PRIMARY KEY,
					prompt_text  TEXT NOT NULL,
					persona_id   TEXT NOT NULL,
					responses    JSONB NOT NULL DEFAULT '[]',
					UNIQUE (prompt_text, persona_id)
				);

				CREATE TABLE IF NOT EXISTS api_keys (
					id             UUID PRIMARY KEY,
					user_id        UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					provider       TEXT NOT NULL CHECK (provider IN ('openai', 'anthropic')),
					encrypted_key  TEXT NOT NULL,
					hint           TEXT NOT NULL,
					valid          BOOLEAN NOT NULL DEFAULT true,
					created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_used_at   TIMESTAMPTZ,
					last_error     TEXT,
					last_error_at  TIMESTAMPTZ,
					UNIQUE (user_id, provider)
				);
			`); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
			return nil
		})
	}, func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				DROP TABLE IF EXISTS api_keys;
				DROP TABLE IF EXISTS response_pools;
				DROP TABLE IF EXISTS custom_personas;
				DROP TABLE IF EXISTS submissions;
				DROP TABLE IF EXISTS rounds;
				DROP TABLE IF EXISTS players;
				DROP TABLE IF EXISTS games;
				DROP TABLE IF EXISTS cards;
				DROP TABLE IF EXISTS users;
			`); err != nil {
				return fmt.Errorf("failed to drop schema: %w", err)
			}
			return nil
		})
	})
}

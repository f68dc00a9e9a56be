// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Bot registration persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dialogmesh/botbridge/internal/api"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema is
// created automatically; parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bots (
		api_key     TEXT PRIMARY KEY,
		bot_id      TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		webhook_url TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client_configurations (
		api_key    TEXT PRIMARY KEY REFERENCES bots(api_key) ON DELETE CASCADE,
		payload    TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveBot inserts or updates a bot registration keyed by its API key.
func (s *SQLiteStore) SaveBot(ctx context.Context, bot *Bot) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (api_key, bot_id, name, webhook_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(api_key) DO UPDATE SET
			bot_id = excluded.bot_id,
			name = excluded.name,
			webhook_url = excluded.webhook_url,
			updated_at = excluded.updated_at`,
		bot.APIKey, bot.BotID, bot.Name, bot.WebhookURL, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving bot: %w", err)
	}
	return nil
}

// GetBot returns the bot registered under apiKey.
func (s *SQLiteStore) GetBot(ctx context.Context, apiKey string) (*Bot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT api_key, bot_id, name, webhook_url, created_at, updated_at
		FROM bots WHERE api_key = ?`, apiKey)

	var bot Bot
	err := row.Scan(&bot.APIKey, &bot.BotID, &bot.Name, &bot.WebhookURL, &bot.CreatedAt, &bot.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading bot: %w", err)
	}
	return &bot, nil
}

// ListBots returns all registered bots ordered by bot id.
func (s *SQLiteStore) ListBots(ctx context.Context) ([]*Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT api_key, bot_id, name, webhook_url, created_at, updated_at
		FROM bots ORDER BY bot_id`)
	if err != nil {
		return nil, fmt.Errorf("listing bots: %w", err)
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		var bot Bot
		if err := rows.Scan(&bot.APIKey, &bot.BotID, &bot.Name, &bot.WebhookURL, &bot.CreatedAt, &bot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning bot: %w", err)
		}
		bots = append(bots, &bot)
	}
	return bots, rows.Err()
}

// DeleteBot removes a bot registration and its cached configuration. The
// configuration row is deleted explicitly; the schema cascade only applies on
// connections with foreign keys enabled.
func (s *SQLiteStore) DeleteBot(ctx context.Context, apiKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_configurations WHERE api_key = ?`, apiKey); err != nil {
		return fmt.Errorf("deleting configuration: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE api_key = ?`, apiKey)
	if err != nil {
		return fmt.Errorf("deleting bot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting bot: %w", err)
	}
	if n == 0 {
		return ErrBotNotFound
	}
	return nil
}

// SaveClientConfiguration upserts the last configuration learned for apiKey.
func (s *SQLiteStore) SaveClientConfiguration(ctx context.Context, apiKey string, cfg *api.ClientConfiguration) error {
	payload, err := api.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO client_configurations (api_key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(api_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		apiKey, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}
	return nil
}

// GetClientConfiguration returns the stored configuration for apiKey, or
// (nil, nil) when none was ever learned.
func (s *SQLiteStore) GetClientConfiguration(ctx context.Context, apiKey string) (*api.ClientConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM client_configurations WHERE api_key = ?`, apiKey)

	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	var cfg api.ClientConfiguration
	if err := api.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &cfg, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

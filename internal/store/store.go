// ABOUTME: Storage interface for bot registrations and learned client configurations.
// ABOUTME: Defines the Store contract implemented by the SQLite backend.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dialogmesh/botbridge/internal/api"
)

// ErrBotNotFound indicates no bot is registered under the given API key.
var ErrBotNotFound = errors.New("bot not found")

// Bot is one registered bot: the API key its client authenticates with and
// the optional webhook URL. An empty WebhookURL means the socket channel is
// the only transport.
type Bot struct {
	APIKey     string
	BotID      string
	Name       string
	WebhookURL string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store persists bot registrations and the last client configuration
// learned per API key. In-flight correlation state is deliberately not
// persisted; a restart loses it.
type Store interface {
	SaveBot(ctx context.Context, bot *Bot) error
	GetBot(ctx context.Context, apiKey string) (*Bot, error)
	ListBots(ctx context.Context) ([]*Bot, error)
	DeleteBot(ctx context.Context, apiKey string) error

	SaveClientConfiguration(ctx context.Context, apiKey string, cfg *api.ClientConfiguration) error
	// GetClientConfiguration returns (nil, nil) when none was ever learned.
	GetClientConfiguration(ctx context.Context, apiKey string) (*api.ClientConfiguration, error)

	Close() error
}

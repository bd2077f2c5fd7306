package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DisabledWorkersKey is the Redis hash of disabled class names.
const DisabledWorkersKey = "sidekiq.disabled-workers"

// Switch reports whether a work unit class is disabled.
type Switch interface {
	Disabled(ctx context.Context, class string) (bool, error)
}

// KillSwitch enables and disables work unit classes across every host.
type KillSwitch struct {
	client redis.UniversalClient
	key    string
	logger zerolog.Logger
	now    func() time.Time
}

// NewKillSwitch creates a kill switch stored under DisabledWorkersKey.
func NewKillSwitch(client redis.UniversalClient, logger zerolog.Logger) *KillSwitch {
	return &KillSwitch{
		client: client,
		key:    DisabledWorkersKey,
		logger: logger.With().Str("component", "kill-switch").Logger(),
		now:    time.Now,
	}
}

// Disable stops class from running anywhere.
func (k *KillSwitch) Disable(ctx context.Context, class string) error {
	if err := k.client.HSet(ctx, k.key, class, k.now().UTC().Format(time.RFC3339)).Err(); err != nil {
		return err
	}
	k.logger.Warn().Str("class", class).Msg("work unit has been disabled")
	return nil
}

// Enable lets class run again.
func (k *KillSwitch) Enable(ctx context.Context, class string) error {
	if err := k.client.HDel(ctx, k.key, class).Err(); err != nil {
		return err
	}
	k.logger.Warn().Str("class", class).Msg("work unit has been enabled")
	return nil
}

// Disabled implements Switch.
func (k *KillSwitch) Disabled(ctx context.Context, class string) (bool, error) {
	return k.client.HExists(ctx, k.key, class).Result()
}

// List returns disabled classes and when they were disabled.
func (k *KillSwitch) List(ctx context.Context) (map[string]string, error) {
	return k.client.HGetAll(ctx, k.key).Result()
}

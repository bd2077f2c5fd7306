package jobs

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, mr
}

func TestKillSwitch(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	ks := NewKillSwitch(client, zerolog.Nop())

	disabled, err := ks.Disabled(ctx, "ReportWorker")
	require.NoError(t, err)
	assert.False(t, disabled)

	require.NoError(t, ks.Disable(ctx, "ReportWorker"))
	assert.NotEmpty(t, mr.HGet(DisabledWorkersKey, "ReportWorker"))

	disabled, err = ks.Disabled(ctx, "ReportWorker")
	require.NoError(t, err)
	assert.True(t, disabled)

	list, err := ks.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, "ReportWorker")

	require.NoError(t, ks.Enable(ctx, "ReportWorker"))
	disabled, err = ks.Disabled(ctx, "ReportWorker")
	require.NoError(t, err)
	assert.False(t, disabled)
}

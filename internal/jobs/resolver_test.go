package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinitions = `
work_units:
  - name: ReportWorker
    mode: one_at_a_time
    ttl: 300s
    timeout: 30s
  - name: CleanupWorker
    mode: one_at_a_time
    ttl: 10s
  - name: EmailWorker
`

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleDefinitions))
	require.NoError(t, err)
	require.Len(t, defs, 3)

	assert.Equal(t, "ReportWorker", defs[0].Name)
	assert.Equal(t, ModeOneAtATime, defs[0].Mode)
	assert.Equal(t, 300*time.Second, defs[0].TTL)
	assert.Equal(t, 30*time.Second, defs[0].Timeout)
	assert.Equal(t, DefaultTimeout, defs[1].Timeout)
	assert.False(t, defs[2].Exclusive())
}

func TestParseDefinitions_ExplicitZeroTimeout(t *testing.T) {
	defs, err := ParseDefinitions([]byte(`
work_units:
  - name: NoWaitWorker
    mode: one_at_a_time
    ttl: 60s
    timeout: 0s
`))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Zero(t, defs[0].Timeout, "an explicit zero timeout means a single attempt")

	resolver, err := NewStaticResolver(defs...)
	require.NoError(t, err)
	def, ok := resolver.Resolve("NoWaitWorker")
	require.True(t, ok)
	assert.Zero(t, def.Timeout, "registering does not restore the default")
}

func TestParseDefinitions_Invalid(t *testing.T) {
	_, err := ParseDefinitions([]byte("work_units:\n  - name: Broken\n    mode: one_at_a_time\n"))
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = ParseDefinitions([]byte("work_units: [unclosed"))
	assert.Error(t, err)
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work_units.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDefinitions), 0o600))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	assert.Len(t, defs, 3)

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStaticResolver(t *testing.T) {
	resolver, err := NewStaticResolver(
		Definition{Name: "B", Mode: ModeOneAtATime, TTL: time.Minute},
		Definition{Name: "A"},
	)
	require.NoError(t, err)

	def, ok := resolver.Resolve("B")
	assert.True(t, ok)
	assert.Equal(t, time.Minute, def.TTL)

	_, ok = resolver.Resolve("Missing")
	assert.False(t, ok)

	names := []string{}
	for _, d := range resolver.Definitions() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"A", "B"}, names)

	_, err = NewStaticResolver(Definition{Name: "Bad", Mode: ModeOneAtATime})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

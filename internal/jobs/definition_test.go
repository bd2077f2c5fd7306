package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinition_LockKey(t *testing.T) {
	def := Definition{Name: "ReportWorker"}

	assert.Equal(t, "ReportWorker", def.LockKey())
	assert.Equal(t, "ReportWorker-42", def.LockKey(42))
	assert.Equal(t, "ReportWorker-1acme", def.LockKey(1, "acme"))
	assert.Equal(t, "ReportWorker-1", def.LockKey(float64(1)), "JSON-decoded numbers derive the same key")
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{"plain unit", Definition{Name: "Plain"}, false},
		{"exclusive with ttl", Definition{Name: "Sync", Mode: ModeOneAtATime, TTL: time.Minute}, false},
		{"exclusive without ttl", Definition{Name: "Sync", Mode: ModeOneAtATime}, true},
		{"missing name", Definition{Mode: ModeOneAtATime, TTL: time.Minute}, true},
		{"unknown mode", Definition{Name: "Odd", Mode: "sometimes"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDefinition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefinition_ValidateDefaultsTimeout(t *testing.T) {
	def := Definition{Name: "Sync", Mode: ModeOneAtATime, TTL: time.Minute}
	require.NoError(t, def.Validate())
	assert.Equal(t, DefaultTimeout, def.Timeout)
	assert.True(t, def.Exclusive())

	custom := Definition{Name: "Sync", Mode: ModeOneAtATime, TTL: time.Minute, Timeout: time.Second}
	require.NoError(t, custom.Validate())
	assert.Equal(t, time.Second, custom.Timeout)

	once := Definition{Name: "Sync", Mode: ModeOneAtATime, TTL: time.Minute, Timeout: -1}
	require.NoError(t, once.Validate())
	assert.Equal(t, time.Duration(-1), once.Timeout, "negative timeout is kept")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, ""},
		{4500 * time.Millisecond, "4.5 Seconds"},
		{2 * time.Minute, "2 Minutes"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1 Hours 2 Minutes 3 Seconds"},
		{26*time.Hour + 1234*time.Millisecond, "1 Days 2 Hours 1.23 Seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}

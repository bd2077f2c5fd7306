// Package jobs describes units of work that run under fleet-wide locks:
// their definitions, the registry of currently running items, and a runner
// that executes exclusive units inside a distributed lock.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is a work unit's synchronization requirement.
type Mode string

const (
	// ModeNone runs every invocation without coordination.
	ModeNone Mode = ""

	// ModeOneAtATime allows one running instance per derived lock key
	// across the fleet.
	ModeOneAtATime Mode = "one_at_a_time"
)

// DefaultTimeout is how long an exclusive unit waits for its lock.
const DefaultTimeout = 5 * time.Second

var (
	// ErrInvalidDefinition is returned for definitions that cannot be registered.
	ErrInvalidDefinition = errors.New("invalid work unit definition")

	// ErrUnknownClass is returned when no work unit is registered under a class name.
	ErrUnknownClass = errors.New("unknown work unit class")

	// ErrJobDisabled is returned by Perform when the kill switch is on.
	ErrJobDisabled = errors.New("work unit is disabled")
)

// Definition is the synchronization metadata of a work unit class.
//
// A zero Timeout is replaced by DefaultTimeout unless it was set explicitly
// in a definitions file, where "timeout: 0s" means a single attempt. Go
// callers ask for a single attempt with a negative Timeout.
type Definition struct {
	Name    string        `yaml:"name"`
	Mode    Mode          `yaml:"mode"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`

	timeoutSet bool
}

// Exclusive reports whether the unit runs one at a time.
func (d Definition) Exclusive() bool {
	return d.Mode == ModeOneAtATime
}

// LockKey derives the lock key for one invocation: the class name alone, or
// the class name and the concatenated arguments.
func (d Definition) LockKey(args ...any) string {
	if len(args) == 0 {
		return d.Name
	}
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteByte('-')
	for _, arg := range args {
		fmt.Fprint(&b, arg)
	}
	return b.String()
}

// Validate checks the definition and fills in defaults.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	switch d.Mode {
	case ModeNone:
	case ModeOneAtATime:
		if d.TTL <= 0 {
			return fmt.Errorf("%w: %s: ttl is required for %s", ErrInvalidDefinition, d.Name, d.Mode)
		}
	default:
		return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidDefinition, d.Name, d.Mode)
	}
	if d.Timeout == 0 && !d.timeoutSet {
		d.Timeout = DefaultTimeout
	}
	return nil
}

package jobs

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Resolver looks up a work unit definition by class name.
type Resolver interface {
	Resolve(class string) (Definition, bool)
}

// StaticResolver is a Resolver backed by definitions registered at startup.
type StaticResolver struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewStaticResolver creates a resolver holding defs.
func NewStaticResolver(defs ...Definition) (*StaticResolver, error) {
	r := &StaticResolver{defs: make(map[string]Definition)}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates def and stores it, replacing any earlier definition
// with the same name.
func (r *StaticResolver) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.defs[def.Name] = def
	r.mu.Unlock()
	return nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(class string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[class]
	return def, ok
}

// Definitions returns all definitions sorted by name.
func (r *StaticResolver) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// definitionsFile is the layout of a work unit definitions file:
//
//	work_units:
//	  - name: ReportWorker
//	    mode: one_at_a_time
//	    ttl: 300s
//	    timeout: 30s
type definitionsFile struct {
	WorkUnits []Definition `yaml:"work_units"`
}

// UnmarshalYAML decodes a definition and records whether timeout was given,
// so an explicit zero survives Validate.
func (d *Definition) UnmarshalYAML(value *yaml.Node) error {
	type plain Definition
	if err := value.Decode((*plain)(d)); err != nil {
		return err
	}
	var presence struct {
		Timeout *time.Duration `yaml:"timeout"`
	}
	if err := value.Decode(&presence); err != nil {
		return err
	}
	d.timeoutSet = presence.Timeout != nil
	return nil
}

// LoadDefinitions reads work unit definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work units: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates YAML work unit definitions.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse work units: %w", err)
	}
	for i := range file.WorkUnits {
		if err := file.WorkUnits[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.WorkUnits, nil
}

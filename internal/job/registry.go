package job

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"jobloop/internal/errs"
)

// Registry is the explicit list of job types an application provides.
// Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

// Register adds definitions. Names must be unique and schedules valid.
// Nothing is registered if any definition is rejected.
func (r *Registry) Register(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := validate(d); err != nil {
			return err
		}
		if _, dup := r.defs[d.Name]; dup || pending[d.Name] {
			return errs.Configuration("job.register", fmt.Errorf("duplicate job %q", d.Name))
		}
		pending[d.Name] = true
	}
	for _, d := range defs {
		r.defs[d.Name] = d
	}
	return nil
}

// MustRegister is Register for static wiring in main packages.
func (r *Registry) MustRegister(defs ...Definition) *Registry {
	if err := r.Register(defs...); err != nil {
		panic(err)
	}
	return r
}

func validate(d Definition) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return errs.Configuration("job.register", errors.New("name required"))
	}
	if name != d.Name || strings.ContainsAny(name, " \t\n") {
		return errs.Configuration("job.register", fmt.Errorf("invalid job name %q", d.Name))
	}
	if d.New == nil {
		return errs.Configuration("job.register", fmt.Errorf("job %q: New is required", d.Name))
	}
	if d.Schedule != nil && !d.Schedule.Disabled {
		if err := d.Schedule.Validate(); err != nil {
			return fmt.Errorf("job %q: %w", d.Name, err)
		}
	}
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	d, ok := r.defs[name]
	r.mu.RUnlock()
	return d, ok
}

// Resolve is Lookup returning a configuration error for unknown names.
func (r *Registry) Resolve(name string) (Definition, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return Definition{}, errs.Configuration("job.resolve", fmt.Errorf("%w: %q", errs.ErrUnknownJob, name))
	}
	return d, nil
}

// All returns every definition sorted by name.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Recurring returns the recurring definitions sorted by name.
func (r *Registry) Recurring() []Definition {
	all := r.All()
	out := all[:0]
	for _, d := range all {
		if d.Recurring() {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

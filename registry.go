package reachboard

import (
	"errors"
	"fmt"

	"github.com/jpalmerr/reachboard/internal/model"
)

// ErrNoTargets is returned when a registry would be empty.
var ErrNoTargets = errors.New("at least one target is required")

// ErrDuplicateTarget is returned when two targets share a name.
var ErrDuplicateTarget = errors.New("duplicate target name")

// ErrUnknownTarget is returned for a name that is not registered.
var ErrUnknownTarget = errors.New("unknown target")

// Registry is the fixed, ordered set of targets being monitored.
//
// A Registry is built once and never changes; the order of registration is
// preserved by [Registry.Targets].
type Registry struct {
	targets []Target
	index   map[string]int
}

// NewRegistry builds a [Registry]. It fails with [ErrNoTargets] for an empty
// list and [ErrDuplicateTarget] when a name repeats.
func NewRegistry(targets ...Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	r := &Registry{
		targets: make([]Target, 0, len(targets)),
		index:   make(map[string]int, len(targets)),
	}
	for _, t := range targets {
		if t.name == "" {
			return nil, errors.New("target created without NewTarget")
		}
		if _, dup := r.index[t.name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTarget, t.name)
		}
		r.index[t.name] = len(r.targets)
		r.targets = append(r.targets, t)
	}
	return r, nil
}

// Targets returns the targets in registration order.
func (r *Registry) Targets() []Target {
	cp := make([]Target, len(r.targets))
	copy(cp, r.targets)
	return cp
}

// Len returns the number of targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

// Lookup returns the target with the given name.
func (r *Registry) Lookup(name string) (Target, bool) {
	i, ok := r.index[name]
	if !ok {
		return Target{}, false
	}
	return r.targets[i], true
}

func (r *Registry) modelTargets() []model.Target {
	out := make([]model.Target, len(r.targets))
	for i, t := range r.targets {
		out[i] = model.Target{Name: t.name, Address: t.address}
	}
	return out
}

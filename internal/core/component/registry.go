package component

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/observability/log"
)

// Registry is the authoritative catalog of component types. A type can
// only reference parents and mixins that are already registered, so
// dependents always register after their ancestors; that order lets the
// registry resolve each type's dependency closure eagerly and serve
// lookups from cache.
type Registry struct {
	mu       sync.RWMutex
	types    map[string]Type
	resolved map[string][]dependency.Dependency
	log      log.Log
}

func NewRegistry(logger log.Log) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	return &Registry{
		types:    make(map[string]Type),
		resolved: make(map[string][]dependency.Dependency),
		log:      logger,
	}
}

// Register validates and stores a type. Parent types and mixins must
// already be registered. Malformed dependency declarations are rejected
// here so they surface at startup instead of mid-session.
func (r *Registry) Register(t Type) error {
	if t.Name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[t.Name]; exists {
		return errors.Wrapf(ErrTypeExists, "register %s", t.Name)
	}
	if t.Kind == KindMixin {
		if t.Route != "" {
			return errors.Wrapf(ErrMixinRoute, "register %s", t.Name)
		}
		if t.Extends != "" {
			return errors.Wrapf(ErrMixinExtends, "register %s", t.Name)
		}
	}
	if t.Extends != "" {
		parent, ok := r.types[t.Extends]
		if !ok {
			return errors.Wrapf(ErrUnknownType, "register %s: extends %s", t.Name, t.Extends)
		}
		if parent.Kind == KindMixin {
			return errors.Wrapf(ErrMixinParent, "register %s: extends %s", t.Name, t.Extends)
		}
	}
	for _, m := range t.Mixins {
		mixin, ok := r.types[m]
		if !ok {
			return errors.Wrapf(ErrUnknownType, "register %s: mixin %s", t.Name, m)
		}
		if mixin.Kind != KindMixin {
			return errors.Wrapf(ErrNotMixin, "register %s: mixin %s", t.Name, m)
		}
	}
	for _, d := range t.Dependencies {
		if err := d.Validate(); err != nil {
			return errors.Wrapf(err, "register %s: dependency %q", t.Name, d.URL+d.Contents)
		}
	}

	r.types[t.Name] = t
	r.resolved[t.Name] = r.buildResolved(t)

	r.log.Debug("component type registered",
		log.String("type", t.Name),
		log.String("kind", t.Kind.String()),
		log.Int("dependencies", len(r.resolved[t.Name])),
	)
	return nil
}

// buildResolved assembles the full dependency list for a type from the
// already-resolved closures of its parent and mixins: everything the
// extends chain needs first, then each mixin in declaration order, then
// the type's own declarations. Duplicates keep their first position.
// Callers hold the write lock.
func (r *Registry) buildResolved(t Type) []dependency.Dependency {
	var merged []dependency.Dependency
	if t.Extends != "" {
		merged = append(merged, r.resolved[t.Extends]...)
	}
	for _, m := range t.Mixins {
		merged = append(merged, r.resolved[m]...)
	}
	merged = append(merged, t.Dependencies...)

	seen := make(map[dependency.Key]struct{}, len(merged))
	out := make([]dependency.Dependency, 0, len(merged))
	for _, d := range merged {
		key := d.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

// Get returns the registered type by name.
func (r *Registry) Get(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Resolve returns the cached ancestor-first dependency list for a type:
// inherited resources come before the mixin-provided ones, which come
// before the type's own.
func (r *Registry) Resolve(name string) ([]dependency.Dependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deps, ok := r.resolved[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "resolve %s", name)
	}
	out := make([]dependency.Dependency, len(deps))
	copy(out, deps)
	return out, nil
}

// Chunks returns the chunk ids a type contributes when it reaches the
// client. Every type brings its own chunk. In production the bundle is
// split along the inheritance chain as well, so the walk continues
// through the ancestors and stops below the first UI-kind or routed
// ancestor, whose resources belong to the entry bundle. Development
// bundles are per type only, keeping rebuilds small. Mixins never form
// chunks of their own.
func (r *Registry) Chunks(name string, production bool) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "chunks %s", name)
	}
	if t.Kind == KindMixin {
		return nil, nil
	}

	ids := []string{dependency.ChunkID(t.Name)}
	if !production {
		return ids, nil
	}
	for ancestor := t.Extends; ancestor != ""; {
		at := r.types[ancestor]
		if at.Kind == KindUI || at.Route != "" {
			break
		}
		ids = append(ids, dependency.ChunkID(at.Name))
		ancestor = at.Extends
	}
	return ids, nil
}

package mapping

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrMapperNotFound is returned when a named mapper is not registered.
	ErrMapperNotFound = errors.New("mapper not found")
	// ErrMapperExists is returned when registering a name already in use.
	ErrMapperExists = errors.New("mapper already registered")
)

// LookupOptions controls how a registry resolves a raw code string.
type LookupOptions struct {
	// AutoRoute dispatches on the composite tokens before falling back to
	// the named mapper.
	AutoRoute bool
	// Default is substituted when no mapper matches or the code misses.
	Default string
}

// Registry holds named mapping tables and routes lookups among them.
// Composite tokens are matched against a case-insensitive routing index
// built from each table's declared tokens; a token claimed by two tables
// belongs to the one registered last. Registries are safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
	order  []string
	routes map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables: make(map[string]*Table),
		routes: make(map[string]string),
	}
}

// Register adds a table under name and indexes its routing tokens.
// Registering a name twice returns ErrMapperExists; remove the old table
// first to replace it.
func (r *Registry) Register(name string, t *Table) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("mapper name is required")
	}
	if t == nil {
		return errors.New("mapper table is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[name]; exists {
		return fmt.Errorf("mapper %q: %w", name, ErrMapperExists)
	}
	r.tables[name] = t
	r.order = append(r.order, name)
	for _, tok := range t.tokens {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		r.routes[tok] = name
	}
	return nil
}

// GetMapper returns the table registered under name or ErrMapperNotFound.
func (r *Registry) GetMapper(name string) (*Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tables[name]; ok {
		return t, nil
	}
	available := strings.Join(r.order, ", ")
	if available == "" {
		available = "none"
	}
	return nil, fmt.Errorf("mapper %q not registered (available: %s): %w", name, available, ErrMapperNotFound)
}

// HasMapper reports whether name is registered.
func (r *Registry) HasMapper(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[name]
	return ok
}

// ListMappers returns the registered names in registration order.
func (r *Registry) ListMappers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered mappers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// RemoveMapper deletes the named table and its routing tokens, reporting
// whether anything was removed. Removing an absent name is a no-op.
// Tokens the removed table had claimed from an earlier registration are
// dropped, not restored.
func (r *Registry) RemoveMapper(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[name]; !ok {
		return false
	}
	delete(r.tables, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for tok, target := range r.routes {
		if target == name {
			delete(r.routes, tok)
		}
	}
	return true
}

// Lookup resolves raw against the registry and reports whether a table
// produced the description. With AutoRoute set, the composite tokens pick
// the table: each token is checked against the routing index in order, and
// failing that a first-token/last-token pair is tried as a "prefix_version"
// table name. When routing finds nothing, the explicitly named mapper
// serves the lookup. An unroutable code, an unregistered name or a data
// miss all yield the default; Lookup never fails.
func (r *Registry) Lookup(name, raw string, opts LookupOptions) (string, bool) {
	cc := Normalize(raw)
	t := r.dispatch(name, cc, opts.AutoRoute)
	if t == nil {
		return opts.Default, false
	}
	if desc, ok := t.GetDescription(cc.Code); ok {
		return desc, true
	}
	return opts.Default, false
}

// GetDescription is Lookup without the hit flag, for callers that only
// want the best-effort description.
func (r *Registry) GetDescription(name, raw string, opts LookupOptions) string {
	desc, _ := r.Lookup(name, raw, opts)
	return desc
}

// GetDescriptions resolves a batch of raw codes, preserving input order.
// Routing is decided per element, so one batch can span several tables.
func (r *Registry) GetDescriptions(name string, raws []string, opts LookupOptions) []string {
	out := make([]string, len(raws))
	for i, raw := range raws {
		out[i] = r.GetDescription(name, raw, opts)
	}
	return out
}

// ResolveMapper reports which registered table would serve a lookup of raw
// against the fallback name, without touching any lookup stats.
func (r *Registry) ResolveMapper(name, raw string, autoRoute bool) (string, bool) {
	cc := Normalize(raw)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if autoRoute {
		if routed, ok := r.routeLocked(cc.Tokens); ok {
			return routed, true
		}
	}
	if _, ok := r.tables[name]; ok {
		return name, true
	}
	return "", false
}

// AllStats returns a stats snapshot per registered mapper.
func (r *Registry) AllStats() map[string]StatsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]StatsSnapshot, len(r.tables))
	for name, t := range r.tables {
		out[name] = t.Stats()
	}
	return out
}

// ResetAllStats zeroes the lookup counters of every registered mapper.
func (r *Registry) ResetAllStats() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tables {
		t.ResetStats()
	}
}

// dispatch picks the table serving a lookup, or nil when neither routing
// nor the named fallback matches.
func (r *Registry) dispatch(name string, cc CompositeCode, autoRoute bool) *Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if autoRoute {
		if routed, ok := r.routeLocked(cc.Tokens); ok {
			return r.tables[routed]
		}
	}
	return r.tables[name]
}

// routeLocked matches composite tokens against the registry. Single tokens
// are checked against the routing index in composite order; as a second
// attempt the first and last tokens are combined via RouteKey and matched
// against table names, which serves version-suffixed families like
// "diagnosis_10". Callers must hold at least a read lock.
func (r *Registry) routeLocked(tokens []string) (string, bool) {
	for _, tok := range tokens {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if name, ok := r.routes[tok]; ok {
			return name, true
		}
	}
	if len(tokens) >= 2 {
		key := RouteKey(tokens[0], tokens[len(tokens)-1])
		if _, ok := r.tables[key]; ok {
			return key, true
		}
	}
	return "", false
}

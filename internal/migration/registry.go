package migration

import (
	"fmt"
	"sort"
	"sync"
)

// The registry is the migration repository: units register themselves from
// init functions in the migrations package and the Runner discovers them by
// listing the registry. Registration is validated once, at startup, instead
// of trusting ad hoc shape checks at call time.

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Migration)
)

// Register adds a migration to the registry. It panics on an empty id or a
// duplicate registration; both are programmer errors caught at init time.
func Register(m Migration) {
	if m == nil {
		panic("migration: Register called with nil migration")
	}
	id := m.ID()
	if id == "" {
		panic("migration: Register called with empty id")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("migration: duplicate registration for %q", id))
	}
	registry[id] = m
}

// All returns every registered migration in ascending id order.
func All() []Migration {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Migration, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns every registered migration id in ascending order.
func IDs() []string {
	all := All()
	ids := make([]string, len(all))
	for i, m := range all {
		ids[i] = m.ID()
	}
	return ids
}

// Get returns the migration registered under id.
func Get(id string) (Migration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[id]
	return m, ok
}

// resetRegistry clears the registry. Test use only.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Migration)
}

// Package registry tracks named database connections.
//
// The registry wraps raw connection handles with identity metadata (backend
// kind, primary/replica role) and exposes pass-through access to the handle.
// It never inspects or mutates a handle's contents, so any backend can be
// wrapped without Bifrost depending on its shape.
//
// Thread-safe: all operations are protected by mutex.
//
// Example:
//
//	reg := registry.New()
//	rec, err := reg.Register("users-primary", pgPool, registry.Metadata{
//		Backend:   registry.BackendRelational,
//		IsPrimary: true,
//	})
//	if err != nil {
//		return err
//	}
//	pool := rec.Raw.(*pgxpool.Pool)
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Backend identifies the kind of database behind a connection.
type Backend string

const (
	BackendRelational Backend = "relational"
	BackendDocument   Backend = "document"
	BackendVector     Backend = "vector"
	BackendOther      Backend = "other"
)

// Metadata describes a connection at registration time.
type Metadata struct {
	Backend   Backend `json:"backend"`
	IsPrimary bool    `json:"is_primary"`
}

// Record is a registered connection. Immutable after registration except
// for the Live flag, which SetLive toggles.
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Backend      Backend   `json:"backend"`
	IsPrimary    bool      `json:"is_primary"`
	Raw          any       `json:"-"` // opaque handle, passed through unchanged
	RegisteredAt time.Time `json:"registered_at"`
	Live         bool      `json:"live"`
}

// Registry is a thread-safe store of connection records keyed by name.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Register adds a connection under a unique name.
// Returns ErrDuplicateName if the name is taken, ErrInvalidName for an empty
// name and ErrNilHandle for a nil handle.
func (r *Registry) Register(name string, raw any, meta Metadata) (*Record, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if raw == nil {
		return nil, ErrNilHandle
	}

	backend := meta.Backend
	if backend == "" {
		backend = BackendOther
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; exists {
		return nil, ErrDuplicateName
	}

	rec := &Record{
		ID:           uuid.NewString(),
		Name:         name,
		Backend:      backend,
		IsPrimary:    meta.IsPrimary,
		Raw:          raw,
		RegisteredAt: r.now(),
		Live:         true,
	}
	r.records[name] = rec

	out := *rec
	return &out, nil
}

// Get returns the record for name, or ErrNotFound.
func (r *Registry) Get(name string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// Unregister removes the record for name, or returns ErrNotFound.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[name]; !ok {
		return ErrNotFound
	}
	delete(r.records, name)
	return nil
}

// SetLive toggles the liveness flag, the only mutation a record allows after
// registration.
func (r *Registry) SetLive(name string, live bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return ErrNotFound
	}
	rec.Live = live
	return nil
}

// List returns copies of all records, sorted by name.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		c := *rec
		out = append(out, &c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

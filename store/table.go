package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("key not found")
	// ErrExists is returned by Insert when a key is already present.
	ErrExists = errors.New("key already exists")
)

// TableOptions configures a Table.
type TableOptions[V any] struct {
	// Clone deep-copies the slices and maps held by a value. Tables whose
	// values carry them must set it: Update and Mutate work on a clone and
	// readers receive clones, so a stored value is never written once other
	// goroutines can see it.
	Clone func(v V) V
}

// WithClone sets TableOptions.Clone.
func WithClone[V any](fn func(v V) V) func(o *TableOptions[V]) {
	return func(o *TableOptions[V]) { o.Clone = fn }
}

// Table is a keyed store owned by a single agent. Writes are copy-on-write
// under the table lock, so callers never observe a half-written record. Safe
// for concurrent use by the agent's loop and its periodic tasks.
type Table[K comparable, V any] struct {
	mu    sync.RWMutex
	rows  map[K]V
	clone func(v V) V
}

// NewTable creates an empty table.
func NewTable[K comparable, V any](optFns ...func(o *TableOptions[V])) *Table[K, V] {
	var opts TableOptions[V]
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Table[K, V]{rows: make(map[K]V), clone: opts.Clone}
}

func (t *Table[K, V]) copy(v V) V {
	if t.clone == nil {
		return v
	}
	return t.clone(v)
}

// Insert adds a new row. It fails with ErrExists if key is present.
func (t *Table[K, V]) Insert(key K, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rows[key]; ok {
		return fmt.Errorf("%w: %v", ErrExists, key)
	}
	t.rows[key] = v
	return nil
}

// Upsert sets the row for key regardless of whether it exists.
func (t *Table[K, V]) Upsert(key K, v V) {
	t.mu.Lock()
	t.rows[key] = v
	t.mu.Unlock()
}

// Update applies fn to the existing row. It fails with ErrNotFound if key is
// absent; an error from fn leaves the row unchanged.
func (t *Table[K, V]) Update(key K, fn func(v *V) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.rows[key]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	v = t.copy(v)
	if err := fn(&v); err != nil {
		return err
	}
	t.rows[key] = v
	return nil
}

// GetOrCreate returns the row for key, inserting init() first when absent.
func (t *Table[K, V]) GetOrCreate(key K, init func() V) V {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.rows[key]; ok {
		return t.copy(v)
	}
	v := init()
	t.rows[key] = v
	return t.copy(v)
}

// Mutate applies fn to the row for key, creating it with init() when absent.
func (t *Table[K, V]) Mutate(key K, init func() V, fn func(v *V)) V {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.rows[key]
	if ok {
		v = t.copy(v)
	} else {
		v = init()
	}
	fn(&v)
	t.rows[key] = v
	return t.copy(v)
}

// Get returns the row for key.
func (t *Table[K, V]) Get(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[key]
	if !ok {
		return v, false
	}
	return t.copy(v), true
}

// Delete removes and returns the row for key.
func (t *Table[K, V]) Delete(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.rows[key]
	if ok {
		delete(t.rows, key)
	}
	return v, ok
}

// EvictIf removes every row matching pred and returns the removed rows.
func (t *Table[K, V]) EvictIf(pred func(key K, v V) bool) map[K]V {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := make(map[K]V)
	for k, v := range t.rows {
		if pred(k, v) {
			evicted[k] = v
			delete(t.rows, k)
		}
	}
	return evicted
}

// Len returns the number of rows.
func (t *Table[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Snapshot returns a copy of all rows.
func (t *Table[K, V]) Snapshot() map[K]V {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[K]V, len(t.rows))
	for k, v := range t.rows {
		out[k] = t.copy(v)
	}
	return out
}

// Keys returns all keys ordered by their printed form.
func (t *Table[K, V]) Keys() []K {
	t.mu.RLock()
	keys := make([]K, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	return keys
}

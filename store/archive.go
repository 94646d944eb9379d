package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/aegis/core"
)

var _ core.Archive = (*InMemoryArchive)(nil)

// InMemoryArchive implements core.Archive with nested maps. It is the
// default history backend; records are lost on restart.
type InMemoryArchive struct {
	mu   sync.RWMutex
	data map[string]map[string]core.Record // collection -> key -> record
}

// NewInMemoryArchive creates an empty archive.
func NewInMemoryArchive() *InMemoryArchive {
	return &InMemoryArchive{data: make(map[string]map[string]core.Record)}
}

// Put implements core.Archive.
func (a *InMemoryArchive) Put(_ context.Context, rec core.Record) error {
	if rec.Collection == "" || rec.Key == "" {
		return fmt.Errorf("archive: collection and key are required")
	}
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now().UTC()
	}
	rec.Data = copyPayload(rec.Data)

	a.mu.Lock()
	defer a.mu.Unlock()

	col, ok := a.data[rec.Collection]
	if !ok {
		col = make(map[string]core.Record)
		a.data[rec.Collection] = col
	}
	col[rec.Key] = rec
	return nil
}

// Get implements core.Archive.
func (a *InMemoryArchive) Get(_ context.Context, collection, key string) (core.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.data[collection][key]
	if !ok {
		return core.Record{}, fmt.Errorf("%w: %s/%s", core.ErrRecordNotFound, collection, key)
	}
	rec.Data = copyPayload(rec.Data)
	return rec, nil
}

// List implements core.Archive.
func (a *InMemoryArchive) List(_ context.Context, collection string, limit int) ([]core.Record, error) {
	a.mu.RLock()
	out := make([]core.Record, 0, len(a.data[collection]))
	for _, rec := range a.data[collection] {
		rec.Data = copyPayload(rec.Data)
		out = append(out, rec)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ArchivedAt.Equal(out[j].ArchivedAt) {
			return out[i].Key > out[j].Key
		}
		return out[i].ArchivedAt.After(out[j].ArchivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count implements core.Archive.
func (a *InMemoryArchive) Count(_ context.Context, collection string) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data[collection]), nil
}

func copyPayload(p core.Payload) core.Payload {
	if p == nil {
		return nil
	}
	out := make(core.Payload, len(p))
	maps.Copy(out, p)
	return out
}

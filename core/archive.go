package core

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by Archive.Get for unknown keys.
var ErrRecordNotFound = errors.New("record not found")

// Record is an archived entry: something an agent evicted from its active
// state but still needs to answer history queries about.
type Record struct {
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	Data       Payload   `json:"data"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Archive stores records moved out of an agent's active state. Each agent
// writes to its own collections; Put with an existing key replaces the record.
type Archive interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, collection, key string) (Record, error)
	// List returns up to limit records of a collection, newest first.
	// A limit <= 0 returns all.
	List(ctx context.Context, collection string, limit int) ([]Record, error)
	Count(ctx context.Context, collection string) (int, error)
}

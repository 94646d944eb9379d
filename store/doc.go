// Package store provides the state primitives owned by each agent: a generic
// keyed Table with insert/update/evict operations, and an in-memory
// core.Archive that receives rows evicted from active tables. A SQLite
// archive lives in store/sqlite.
package store

// Package memory provides an in-memory storage.Datasource.
//
// Keys are spread over a fixed number of shards, each guarded by its own
// mutex, so operations on different records rarely contend. TestAndSet holds
// only the lock of the shard that owns its key. Expired entries are invisible
// to every operation and are purged by a background loop.
//
// It is suitable for development, testing, and single-instance deployments.
// For multi-instance deployments use storage/valkey.
//
// Example usage:
//
//	ds := memory.New()
//	defer ds.Stop()
//
//	store := kv.New(ds, memory.BackendName)
package memory

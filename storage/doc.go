// Package storage defines the records and interfaces used to persist
// registered clients, authorization codes and token pairs.
//
// The domain stores (ClientRegistry, CodeStore, TokenStore) are implemented
// once in storage/kv on top of the Datasource capability interface. Backends
// only have to provide Datasource:
//   - storage/memory: in-process map with per-key locking, for development and tests
//   - storage/valkey: Valkey/Redis-compatible store for multi-instance deployments
//   - storage/sqlite: embedded SQLite file, for single-node persistence
package storage

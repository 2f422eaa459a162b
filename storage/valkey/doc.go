// Package valkey provides a storage.Datasource backed by Valkey (or any
// Redis-compatible server) using github.com/valkey-io/valkey-go.
//
// Every key is namespaced with a configurable prefix. Expiry is delegated
// to the server through PX on SET. TestAndSet runs as a Lua script that
// compares the stored value and rewrites it with KEEPTTL, so the swap is
// atomic across every server process sharing the instance.
//
// Example usage:
//
//	ds, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//	    return err
//	}
//	defer ds.Close()
//
//	store := kv.New(ds, valkey.BackendName)
package valkey

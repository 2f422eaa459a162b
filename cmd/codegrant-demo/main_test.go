package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-codegrant/storage/kv"
	"github.com/giantswarm/oauth-codegrant/storage/memory"
)

func TestNewEncryptionKey(t *testing.T) {
	first, err := newEncryptionKey()
	require.NoError(t, err)
	second, err := newEncryptionKey()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	ds := memory.New()
	t.Cleanup(ds.Stop)
	store := kv.New(ds, memory.BackendName)

	require.NoError(t, configureStore(store, StorageConfig{EncryptionKey: first}, nil, slog.Default()),
		"a generated key must be accepted as storage.encryption_key")
	assert.Error(t, configureStore(store, StorageConfig{EncryptionKey: "c2hvcnQ="}, nil, slog.Default()))
}

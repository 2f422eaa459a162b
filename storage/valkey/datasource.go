package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-codegrant/storage"
)

var _ storage.Datasource = (*Store)(nil)

// luaTestAndSet swaps the value of a key only if it still holds the expected
// bytes, keeping the remaining TTL.
//
// KEYS[1] = key
// ARGV[1] = expected value
// ARGV[2] = new value
//
// Returns 1 if the value was swapped, 0 otherwise.
const luaTestAndSet = `
local current = redis.call('GET', KEYS[1])
if not current or current ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
return 1
`

// Lookup returns the value stored under key.
func (s *Store) Lookup(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).AsBytes()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return data, nil
}

// Insert stores value under key with a millisecond-precision TTL.
func (s *Store) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set := s.client.B().Set().Key(s.key(key)).Value(string(value))

	var err error
	if ttl > 0 {
		err = s.client.Do(ctx, set.Px(ttl).Build()).Error()
	} else {
		err = s.client.Do(ctx, set.Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// TestAndSet runs luaTestAndSet against key.
func (s *Store) TestAndSet(ctx context.Context, key string, expected, value []byte) (bool, error) {
	swapped, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaTestAndSet).
			Numkeys(1).
			Key(s.key(key)).
			Arg(string(expected), string(value)).
			Build(),
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to execute test-and-set: %w", err)
	}
	return swapped == 1, nil
}

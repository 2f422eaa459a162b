package testutil

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/scope"
	"github.com/giantswarm/oauth-codegrant/storage"
)

// Fixture values matching the demo client registration.
const (
	TestClientID     = "local_client_id"
	TestClientSecret = "local_client_secret"
	TestRedirectURI  = "http://localhost:8080/redirect"
	TestScope        = "default-scope"
	TestOwnerID      = "dummy-owner"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// NewConfidentialClient returns the demo client with its secret hashed at
// the minimum bcrypt cost.
func NewConfidentialClient(t *testing.T) *storage.Client {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash client secret: %v", err)
	}
	return &storage.Client{
		ID:          TestClientID,
		Name:        "Local Client",
		SecretHash:  string(hash),
		RedirectURI: TestRedirectURI,
		Scope:       scope.Parse(TestScope),
		CreatedAt:   time.Now(),
	}
}

// NewPublicClient returns a client without a secret.
func NewPublicClient(id string) *storage.Client {
	return &storage.Client{
		ID:          id,
		RedirectURI: TestRedirectURI,
		Scope:       scope.Parse(TestScope),
		CreatedAt:   time.Now(),
	}
}

// NewGrant returns a grant for the demo client and owner.
func NewGrant(s string) *storage.Grant {
	return &storage.Grant{
		ClientID:    TestClientID,
		RedirectURI: TestRedirectURI,
		Scope:       scope.Parse(s),
		OwnerID:     TestOwnerID,
	}
}

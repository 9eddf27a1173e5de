package auth

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/ratelimit"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Cheap argon2 parameters; production defaults take tens of milliseconds.
var fastArgon2 = Argon2Params{Memory: 1024, Time: 1, Parallelism: 1}

var (
	rsaOnce sync.Once
	rsaKeys *SigningKeys
)

// testKeys returns an RS256 key pair shared by the package's tests.
func testKeys(t testing.TB) *SigningKeys {
	t.Helper()
	rsaOnce.Do(func() {
		var err error
		if rsaKeys, err = GenerateSigningKeys("RS256", "test-key"); err != nil {
			panic(err)
		}
	})
	return rsaKeys
}

func testConfig() Config {
	return Config{
		Methods: Methods{JWT: true, APIKey: true, AppPassword: true},
		JWT: JWTConfig{
			Issuer:   "https://api.example.test",
			Audience: "wp-api",
		},
		Tokens:      DefaultTokenConfig(),
		AppPassword: AppPasswordConfig{Argon2: fastArgon2},
	}
}

type harness struct {
	svc   *Service
	store *store.Memory
	clock *clock.Fake
}

// newHarness builds a Service over an in-memory store and a fake clock at
// epoch. mutate may adjust the config before construction.
func newHarness(t testing.TB, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	h := &harness{store: store.NewMemory(), clock: clock.NewFake(epoch)}
	config := testConfig()
	deps := Deps{Store: h.store, Keys: testKeys(t), Clock: h.clock}
	if mutate != nil {
		mutate(&config, &deps)
	}
	svc, err := NewService(config, deps)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h.svc = svc
	return h
}

// withLimiter installs an in-memory layered limiter on the harness clock.
func withLimiter(limits RateLimits, failOpen bool) func(*Config, *Deps) {
	return func(c *Config, d *Deps) {
		c.RateLimits = limits
		d.Limiter = ratelimit.NewLayered(ratelimit.NewMemoryLimiter(ratelimit.BanPolicy{}, d.Clock), ratelimit.LayeredConfig{FailOpen: failOpen})
	}
}

func bearer(token string) *AuthRequest {
	return &AuthRequest{Headers: map[string][]string{"Authorization": {"Bearer " + token}}, RemoteAddr: "192.0.2.10:5000"}
}

func apiKeyRequest(key string) *AuthRequest {
	return &AuthRequest{Headers: map[string][]string{"X-API-Key": {key}}, RemoteAddr: "192.0.2.10:5000"}
}

func basicRequest(login, password string) *AuthRequest {
	cred := base64.StdEncoding.EncodeToString([]byte(login + ":" + password))
	return &AuthRequest{Headers: map[string][]string{"Authorization": {"Basic " + cred}}, RemoteAddr: "192.0.2.10:5000"}
}

// wantKind fails unless err is an *Error of kind.
func wantKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("error kind = %s (%v), want %s", got, err, kind)
	}
}

// failingStore reports the backend as unavailable for lookups.
type failingStore struct {
	*store.Memory
}

func (failingStore) GetToken(context.Context, string) (*store.TokenRecord, error) {
	return nil, store.ErrUnavailable
}

func (failingStore) GetAPIKeyByHash(context.Context, string) (*store.APIKeyRecord, error) {
	return nil, store.ErrUnavailable
}

func (failingStore) ListAppPasswords(context.Context, string) ([]*store.AppPasswordRecord, error) {
	return nil, store.ErrUnavailable
}

// flakyTokenStore fails the next GetToken for one id, then recovers.
type flakyTokenStore struct {
	*store.Memory

	mu     sync.Mutex
	failID string
}

func (s *flakyTokenStore) failNext(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failID = id
}

func (s *flakyTokenStore) GetToken(ctx context.Context, id string) (*store.TokenRecord, error) {
	s.mu.Lock()
	fail := id != "" && id == s.failID
	if fail {
		s.failID = ""
	}
	s.mu.Unlock()
	if fail {
		return nil, store.ErrUnavailable
	}
	return s.Memory.GetToken(ctx, id)
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store.
type Memory struct {
	mu           sync.RWMutex
	tokens       map[string]*TokenRecord
	apiKeys      map[string]*APIKeyRecord
	keysByHash   map[string]string // hash -> id
	appPasswords map[string]*AppPasswordRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tokens:       make(map[string]*TokenRecord),
		apiKeys:      make(map[string]*APIKeyRecord),
		keysByHash:   make(map[string]string),
		appPasswords: make(map[string]*AppPasswordRecord),
	}
}

// CreateTokens persists token records.
func (m *Memory) CreateTokens(_ context.Context, records ...*TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTokensLocked(records)
}

func (m *Memory) insertTokensLocked(records []*TokenRecord) error {
	for _, rec := range records {
		if _, exists := m.tokens[rec.ID]; exists {
			return ErrDuplicate
		}
	}
	for _, rec := range records {
		m.tokens[rec.ID] = rec.Clone()
	}
	return nil
}

// GetToken returns a copy of the token record.
func (m *Memory) GetToken(_ context.Context, id string) (*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// RotateRefresh exchanges oldID for next under the store lock.
func (m *Memory) RotateRefresh(_ context.Context, oldID string, at time.Time, next []*TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.tokens[oldID]
	if !ok {
		return ErrNotFound
	}
	if old.Revoked() {
		return ErrAlreadyRotated
	}
	if err := m.insertTokensLocked(next); err != nil {
		return err
	}

	old.RevokedAt = at
	old.RevokeReason = ReasonRotated
	old.SuccessorID = successorID(next)
	if sibling, ok := m.tokens[old.PairID]; ok && sibling.SupersededAt.IsZero() {
		sibling.SupersededAt = at
	}
	return nil
}

// RevokeToken marks a token revoked.
func (m *Memory) RevokeToken(_ context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	revokeToken(rec, reason, at)
	return nil
}

// RevokeSession revokes all active tokens of a session.
func (m *Memory) RevokeSession(_ context.Context, sessionID, reason string, at time.Time) (int, error) {
	return m.revokeWhere(func(r *TokenRecord) bool { return r.SessionID == sessionID }, reason, at), nil
}

// RevokeUserTokens revokes all active tokens of a user.
func (m *Memory) RevokeUserTokens(_ context.Context, userID, reason string, at time.Time) (int, error) {
	return m.revokeWhere(func(r *TokenRecord) bool { return r.UserID == userID }, reason, at), nil
}

func (m *Memory) revokeWhere(match func(*TokenRecord) bool, reason string, at time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.tokens {
		if match(rec) && revokeToken(rec, reason, at) {
			n++
		}
	}
	return n
}

// DeleteExpiredTokens drops tokens that expired before cutoff.
func (m *Memory) DeleteExpiredTokens(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.tokens {
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(cutoff) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// CreateAPIKey persists an API key record.
func (m *Memory) CreateAPIKey(_ context.Context, rec *APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apiKeys[rec.ID]; exists {
		return ErrDuplicate
	}
	if _, exists := m.keysByHash[rec.KeyHash]; exists {
		return ErrDuplicate
	}
	m.apiKeys[rec.ID] = rec.Clone()
	m.keysByHash[rec.KeyHash] = rec.ID
	return nil
}

// GetAPIKey returns an API key by id.
func (m *Memory) GetAPIKey(_ context.Context, id string) (*APIKeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.apiKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// GetAPIKeyByHash returns an API key by secret hash.
func (m *Memory) GetAPIKeyByHash(_ context.Context, keyHash string) (*APIKeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.keysByHash[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	return m.apiKeys[id].Clone(), nil
}

// ListAPIKeys returns a user's keys ordered by creation time.
func (m *Memory) ListAPIKeys(_ context.Context, userID string) ([]*APIKeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*APIKeyRecord
	for _, rec := range m.apiKeys {
		if rec.UserID == userID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RevokeAPIKey soft-deletes an API key.
func (m *Memory) RevokeAPIKey(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	if rec.RevokedAt.IsZero() {
		rec.RevokedAt = at
	}
	return nil
}

// TouchAPIKey records last use.
func (m *Memory) TouchAPIKey(_ context.Context, id string, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	rec.LastUsed = at
	rec.LastIP = ip
	return nil
}

// CreateAppPassword persists an application password.
func (m *Memory) CreateAppPassword(_ context.Context, rec *AppPasswordRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.appPasswords[rec.ID]; exists {
		return ErrDuplicate
	}
	m.appPasswords[rec.ID] = rec.Clone()
	return nil
}

// GetAppPassword returns an application password by id.
func (m *Memory) GetAppPassword(_ context.Context, id string) (*AppPasswordRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.appPasswords[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// ListAppPasswords returns the passwords registered for a login.
func (m *Memory) ListAppPasswords(_ context.Context, login string) ([]*AppPasswordRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AppPasswordRecord
	for _, rec := range m.appPasswords {
		if rec.Login == login {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RevokeAppPassword revokes an application password.
func (m *Memory) RevokeAppPassword(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.appPasswords[id]
	if !ok {
		return ErrNotFound
	}
	if rec.RevokedAt.IsZero() {
		rec.RevokedAt = at
	}
	return nil
}

// TouchAppPassword records last use.
func (m *Memory) TouchAppPassword(_ context.Context, id string, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.appPasswords[id]
	if !ok {
		return ErrNotFound
	}
	rec.LastUsed = at
	rec.LastIP = ip
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// revokeToken applies a revocation and reports whether the record changed.
func revokeToken(rec *TokenRecord, reason string, at time.Time) bool {
	if rec.Revoked() {
		return false
	}
	rec.RevokedAt = at
	rec.RevokeReason = reason
	return true
}

func successorID(next []*TokenRecord) string {
	for _, rec := range next {
		if rec.Type == TokenRefresh {
			return rec.ID
		}
	}
	return ""
}

// Ensure Memory implements Store
var _ Store = (*Memory)(nil)

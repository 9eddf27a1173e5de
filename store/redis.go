package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Prefix namespaces every key.
	// Default: "auth"
	Prefix string

	// Retention keeps expired token records around for this long before
	// Redis evicts them.
	// Default: 24 hours
	Retention time.Duration

	// MaxUpdateAttempts bounds optimistic-lock retries for rotation,
	// revocation and last-use updates.
	// Default: 3
	MaxUpdateAttempts int

	Clock clock.Clock
}

// Redis is a Store backed by Redis. Records are JSON values; multi-key
// updates use WATCH/MULTI so rotation is a compare-and-set.
type Redis struct {
	client redis.UniversalClient
	config RedisConfig
	clock  clock.Clock
}

// NewRedis creates a Redis-backed store.
func NewRedis(client redis.UniversalClient, config RedisConfig) *Redis {
	if config.Prefix == "" {
		config.Prefix = "auth"
	}
	if config.Retention <= 0 {
		config.Retention = 24 * time.Hour
	}
	if config.MaxUpdateAttempts <= 0 {
		config.MaxUpdateAttempts = 3
	}
	return &Redis{client: client, config: config, clock: clock.OrSystem(config.Clock)}
}

func (s *Redis) tokenKey(id string) string        { return s.config.Prefix + ":tok:" + id }
func (s *Redis) sessionKey(id string) string      { return s.config.Prefix + ":ses:" + id }
func (s *Redis) userTokensKey(id string) string   { return s.config.Prefix + ":usr:" + id + ":tok" }
func (s *Redis) apiKeyKey(id string) string       { return s.config.Prefix + ":key:" + id }
func (s *Redis) apiKeyHashKey(hash string) string { return s.config.Prefix + ":keyh:" + hash }
func (s *Redis) userKeysKey(id string) string     { return s.config.Prefix + ":usr:" + id + ":key" }
func (s *Redis) appPasswordKey(id string) string  { return s.config.Prefix + ":app:" + id }
func (s *Redis) loginKey(login string) string     { return s.config.Prefix + ":lgn:" + login }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readJSON[T any](ctx context.Context, g getter, key string) (*T, error) {
	data, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return &v, nil
}

func unavailable(err error) error {
	if err == nil || IsPermanent(err) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Redis) tokenTTL(rec *TokenRecord) time.Duration {
	if rec.ExpiresAt.IsZero() {
		return 0
	}
	ttl := rec.ExpiresAt.Add(s.config.Retention).Sub(s.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *Redis) writeToken(ctx context.Context, pipe redis.Pipeliner, rec *TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.tokenKey(rec.ID), data, s.tokenTTL(rec))
	if rec.SessionID != "" {
		pipe.SAdd(ctx, s.sessionKey(rec.SessionID), rec.ID)
	}
	pipe.SAdd(ctx, s.userTokensKey(rec.UserID), rec.ID)
	return nil
}

// CreateTokens persists token records in one MULTI block.
func (s *Redis) CreateTokens(ctx context.Context, records ...*TokenRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range records {
			if err := s.writeToken(ctx, pipe, rec); err != nil {
				return err
			}
		}
		return nil
	})
	return unavailable(err)
}

// GetToken returns a token record.
func (s *Redis) GetToken(ctx context.Context, id string) (*TokenRecord, error) {
	return readJSON[TokenRecord](ctx, s.client, s.tokenKey(id))
}

// RotateRefresh runs the rotation inside WATCH on the old token key and
// its sibling access token. A transaction aborted by another writer is
// retried; once the old token reads as revoked the result is
// ErrAlreadyRotated.
func (s *Redis) RotateRefresh(ctx context.Context, oldID string, at time.Time, next []*TokenRecord) error {
	rotate := func(tx *redis.Tx) error {
		old, err := readJSON[TokenRecord](ctx, tx, s.tokenKey(oldID))
		if err != nil {
			return err
		}
		if old.Revoked() {
			return ErrAlreadyRotated
		}
		var sibling *TokenRecord
		if old.PairID != "" {
			// A logout of the sibling must not be overwritten below.
			if err := tx.Watch(ctx, s.tokenKey(old.PairID)).Err(); err != nil {
				return err
			}
			sibling, err = readJSON[TokenRecord](ctx, tx, s.tokenKey(old.PairID))
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		old.RevokedAt = at
		old.RevokeReason = ReasonRotated
		old.SuccessorID = successorID(next)
		if sibling != nil && sibling.SupersededAt.IsZero() {
			sibling.SupersededAt = at
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := s.writeToken(ctx, pipe, old); err != nil {
				return err
			}
			if sibling != nil {
				if err := s.writeToken(ctx, pipe, sibling); err != nil {
					return err
				}
			}
			for _, rec := range next {
				if err := s.writeToken(ctx, pipe, rec); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.config.MaxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, rotate, s.tokenKey(oldID))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return unavailable(err)
	}
	return unavailable(redis.TxFailedErr)
}

// update applies fn to the record at key under WATCH, retrying when
// another writer races it. fn reports whether the record changed.
func update[T any](ctx context.Context, s *Redis, key string, fn func(*T) bool, write func(context.Context, redis.Pipeliner, *T) error) (bool, error) {
	var changed bool
	for attempt := 0; attempt < s.config.MaxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := readJSON[T](ctx, tx, key)
			if err != nil {
				return err
			}
			changed = fn(rec)
			if !changed {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return write(ctx, pipe, rec)
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return changed, unavailable(err)
	}
	return false, unavailable(redis.TxFailedErr)
}

func (s *Redis) revokeOne(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	return update(ctx, s, s.tokenKey(id),
		func(rec *TokenRecord) bool { return revokeToken(rec, reason, at) },
		s.writeToken)
}

// RevokeToken marks a token revoked.
func (s *Redis) RevokeToken(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.revokeOne(ctx, id, reason, at)
	return err
}

// RevokeSession revokes every active token in a session.
func (s *Redis) RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) (int, error) {
	return s.revokeSet(ctx, s.sessionKey(sessionID), reason, at)
}

// RevokeUserTokens revokes every active token of a user.
func (s *Redis) RevokeUserTokens(ctx context.Context, userID, reason string, at time.Time) (int, error) {
	return s.revokeSet(ctx, s.userTokensKey(userID), reason, at)
}

func (s *Redis) revokeSet(ctx context.Context, setKey, reason string, at time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	n := 0
	for _, id := range ids {
		changed, err := s.revokeOne(ctx, id, reason, at)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// DeleteExpiredTokens removes tokens that expired before cutoff and prunes
// index entries whose records Redis already evicted.
func (s *Redis) DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.config.Prefix+":usr:*:tok", 100).Iterator()
	for iter.Next(ctx) {
		userSet := iter.Val()
		ids, err := s.client.SMembers(ctx, userSet).Result()
		if err != nil {
			return n, unavailable(err)
		}
		for _, id := range ids {
			rec, err := s.GetToken(ctx, id)
			switch {
			case errors.Is(err, ErrNotFound):
				s.client.SRem(ctx, userSet, id)
				n++
			case err != nil:
				return n, err
			case !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(cutoff):
				_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, s.tokenKey(id))
					pipe.SRem(ctx, userSet, id)
					if rec.SessionID != "" {
						pipe.SRem(ctx, s.sessionKey(rec.SessionID), id)
					}
					return nil
				})
				if err != nil {
					return n, unavailable(err)
				}
				n++
			}
		}
	}
	return n, unavailable(iter.Err())
}

func (s *Redis) writeAPIKey(ctx context.Context, pipe redis.Pipeliner, rec *APIKeyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.apiKeyKey(rec.ID), data, 0)
	return nil
}

// CreateAPIKey persists an API key, claiming its hash with SETNX first.
func (s *Redis) CreateAPIKey(ctx context.Context, rec *APIKeyRecord) error {
	ok, err := s.client.SetNX(ctx, s.apiKeyHashKey(rec.KeyHash), rec.ID, 0).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrDuplicate
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.writeAPIKey(ctx, pipe, rec); err != nil {
			return err
		}
		pipe.SAdd(ctx, s.userKeysKey(rec.UserID), rec.ID)
		return nil
	})
	return unavailable(err)
}

// GetAPIKey returns an API key by id.
func (s *Redis) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	return readJSON[APIKeyRecord](ctx, s.client, s.apiKeyKey(id))
}

// GetAPIKeyByHash resolves the hash index then loads the key.
func (s *Redis) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	id, err := s.client.Get(ctx, s.apiKeyHashKey(keyHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return s.GetAPIKey(ctx, id)
}

// ListAPIKeys returns a user's keys ordered by creation time.
func (s *Redis) ListAPIKeys(ctx context.Context, userID string) ([]*APIKeyRecord, error) {
	ids, err := s.client.SMembers(ctx, s.userKeysKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*APIKeyRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetAPIKey(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RevokeAPIKey soft-deletes an API key.
func (s *Redis) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := update(ctx, s, s.apiKeyKey(id), func(rec *APIKeyRecord) bool {
		if rec.Revoked() {
			return false
		}
		rec.RevokedAt = at
		return true
	}, s.writeAPIKey)
	return err
}

// TouchAPIKey records last use.
func (s *Redis) TouchAPIKey(ctx context.Context, id string, at time.Time, ip string) error {
	_, err := update(ctx, s, s.apiKeyKey(id), func(rec *APIKeyRecord) bool {
		rec.LastUsed = at
		rec.LastIP = ip
		return true
	}, s.writeAPIKey)
	return err
}

func (s *Redis) writeAppPassword(ctx context.Context, pipe redis.Pipeliner, rec *AppPasswordRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.appPasswordKey(rec.ID), data, 0)
	return nil
}

// CreateAppPassword persists an application password.
func (s *Redis) CreateAppPassword(ctx context.Context, rec *AppPasswordRecord) error {
	n, err := s.client.Exists(ctx, s.appPasswordKey(rec.ID)).Result()
	if err != nil {
		return unavailable(err)
	}
	if n > 0 {
		return ErrDuplicate
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := s.writeAppPassword(ctx, pipe, rec); err != nil {
			return err
		}
		pipe.SAdd(ctx, s.loginKey(rec.Login), rec.ID)
		return nil
	})
	return unavailable(err)
}

// GetAppPassword returns an application password by id.
func (s *Redis) GetAppPassword(ctx context.Context, id string) (*AppPasswordRecord, error) {
	return readJSON[AppPasswordRecord](ctx, s.client, s.appPasswordKey(id))
}

// ListAppPasswords returns the passwords registered for a login.
func (s *Redis) ListAppPasswords(ctx context.Context, login string) ([]*AppPasswordRecord, error) {
	ids, err := s.client.SMembers(ctx, s.loginKey(login)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*AppPasswordRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetAppPassword(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RevokeAppPassword revokes an application password.
func (s *Redis) RevokeAppPassword(ctx context.Context, id string, at time.Time) error {
	_, err := update(ctx, s, s.appPasswordKey(id), func(rec *AppPasswordRecord) bool {
		if rec.Revoked() {
			return false
		}
		rec.RevokedAt = at
		return true
	}, s.writeAppPassword)
	return err
}

// TouchAppPassword records last use.
func (s *Redis) TouchAppPassword(ctx context.Context, id string, at time.Time, ip string) error {
	_, err := update(ctx, s, s.appPasswordKey(id), func(rec *AppPasswordRecord) bool {
		rec.LastUsed = at
		rec.LastIP = ip
		return true
	}, s.writeAppPassword)
	return err
}

// Ping checks Redis reachability.
func (s *Redis) Ping(ctx context.Context) error {
	return unavailable(s.client.Ping(ctx).Err())
}

// Close closes the Redis client.
func (s *Redis) Close() error {
	return s.client.Close()
}

// Ensure Redis implements Store
var _ Store = (*Redis)(nil)

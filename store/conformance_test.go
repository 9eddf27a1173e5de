package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func tokenPair(userID, sessionID, accessID, refreshID string, issued time.Time) (*TokenRecord, *TokenRecord) {
	access := &TokenRecord{
		ID: accessID, UserID: userID, Type: TokenAccess, SessionID: sessionID, PairID: refreshID,
		Roles: []string{"editor"}, IssuedAt: issued, ExpiresAt: issued.Add(time.Hour),
	}
	refresh := &TokenRecord{
		ID: refreshID, UserID: userID, Type: TokenRefresh, SessionID: sessionID, PairID: accessID,
		Roles: []string{"editor"}, IssuedAt: issued, ExpiresAt: issued.Add(7 * 24 * time.Hour),
	}
	return access, refresh
}

// runStoreConformance exercises the behavior every Store must share.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("token round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, r := tokenPair("1", "s1", "a1", "r1", epoch)
		if err := s.CreateTokens(ctx, a, r); err != nil {
			t.Fatalf("CreateTokens() error = %v", err)
		}
		got, err := s.GetToken(ctx, "r1")
		if err != nil {
			t.Fatalf("GetToken() error = %v", err)
		}
		if got.UserID != "1" || got.Type != TokenRefresh || got.PairID != "a1" || got.Revoked() {
			t.Errorf("GetToken() = %+v", got)
		}
		if _, err := s.GetToken(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetToken(unknown) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("rotate marks old and supersedes sibling", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, r := tokenPair("1", "s1", "a1", "r1", epoch)
		_ = s.CreateTokens(ctx, a, r)

		at := epoch.Add(time.Minute)
		a2, r2 := tokenPair("1", "s1", "a2", "r2", at)
		if err := s.RotateRefresh(ctx, "r1", at, []*TokenRecord{a2, r2}); err != nil {
			t.Fatalf("RotateRefresh() error = %v", err)
		}

		old, _ := s.GetToken(ctx, "r1")
		if !old.Revoked() || old.RevokeReason != ReasonRotated || old.SuccessorID != "r2" {
			t.Errorf("old refresh = %+v", old)
		}
		sib, _ := s.GetToken(ctx, "a1")
		if !sib.SupersededAt.Equal(at) || sib.Revoked() {
			t.Errorf("old access = %+v, want superseded and not revoked", sib)
		}
		if _, err := s.GetToken(ctx, "r2"); err != nil {
			t.Errorf("new refresh missing: %v", err)
		}

		a3, r3 := tokenPair("1", "s1", "a3", "r3", at)
		if err := s.RotateRefresh(ctx, "r1", at, []*TokenRecord{a3, r3}); !errors.Is(err, ErrAlreadyRotated) {
			t.Errorf("second RotateRefresh() error = %v, want ErrAlreadyRotated", err)
		}
		if err := s.RotateRefresh(ctx, "missing", at, nil); !errors.Is(err, ErrNotFound) {
			t.Errorf("RotateRefresh(unknown) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, r := tokenPair("1", "s1", "a1", "r1", epoch)
		_ = s.CreateTokens(ctx, a, r)

		const n = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				suffix := string(rune('a' + i))
				na, nr := tokenPair("1", "s1", "na"+suffix, "nr"+suffix, epoch)
				err := s.RotateRefresh(ctx, "r1", epoch, []*TokenRecord{na, nr})
				if err == nil {
					mu.Lock()
					success++
					mu.Unlock()
				} else if !errors.Is(err, ErrAlreadyRotated) {
					t.Errorf("RotateRefresh() error = %v", err)
				}
			}(i)
		}
		wg.Wait()
		if success != 1 {
			t.Errorf("successful rotations = %d, want 1", success)
		}
	})

	t.Run("revoke session and user", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a1, r1 := tokenPair("1", "s1", "a1", "r1", epoch)
		a2, r2 := tokenPair("1", "s2", "a2", "r2", epoch)
		a3, r3 := tokenPair("2", "s3", "a3", "r3", epoch)
		_ = s.CreateTokens(ctx, a1, r1, a2, r2, a3, r3)

		n, err := s.RevokeSession(ctx, "s1", ReasonLogout, epoch)
		if err != nil || n != 2 {
			t.Fatalf("RevokeSession() = %d, %v; want 2", n, err)
		}
		n, err = s.RevokeUserTokens(ctx, "1", ReasonCompromised, epoch)
		if err != nil || n != 2 {
			t.Fatalf("RevokeUserTokens() = %d, %v; want 2 (s1 already revoked)", n, err)
		}
		got, _ := s.GetToken(ctx, "a1")
		if got.RevokeReason != ReasonLogout {
			t.Errorf("revocation reason overwritten: %q", got.RevokeReason)
		}
		other, _ := s.GetToken(ctx, "a3")
		if other.Revoked() {
			t.Errorf("other user's token revoked")
		}
		if err := s.RevokeToken(ctx, "a3", ReasonAdmin, epoch); err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		if err := s.RevokeToken(ctx, "a3", ReasonLogout, epoch); err != nil {
			t.Errorf("RevokeToken() twice error = %v", err)
		}
		if err := s.RevokeToken(ctx, "missing", ReasonLogout, epoch); !errors.Is(err, ErrNotFound) {
			t.Errorf("RevokeToken(unknown) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("api keys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := &APIKeyRecord{
			ID: "k1", KeyHash: "h1", Prefix: "wack_abcd", UserID: "7", Name: "ci",
			Scopes: []string{"read"}, Roles: []string{"author"}, CreatedAt: epoch,
			RateLimit: 100, RateLimitWindow: time.Minute,
		}
		if err := s.CreateAPIKey(ctx, rec); err != nil {
			t.Fatalf("CreateAPIKey() error = %v", err)
		}
		dup := rec.Clone()
		dup.ID = "k2"
		if err := s.CreateAPIKey(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("CreateAPIKey(duplicate hash) error = %v, want ErrDuplicate", err)
		}

		got, err := s.GetAPIKeyByHash(ctx, "h1")
		if err != nil {
			t.Fatalf("GetAPIKeyByHash() error = %v", err)
		}
		if got.ID != "k1" || got.RateLimitWindow != time.Minute || len(got.Scopes) != 1 {
			t.Errorf("GetAPIKeyByHash() = %+v", got)
		}

		if err := s.TouchAPIKey(ctx, "k1", epoch.Add(time.Second), "10.0.0.1"); err != nil {
			t.Fatalf("TouchAPIKey() error = %v", err)
		}
		if err := s.RevokeAPIKey(ctx, "k1", epoch.Add(2*time.Second)); err != nil {
			t.Fatalf("RevokeAPIKey() error = %v", err)
		}
		got, _ = s.GetAPIKey(ctx, "k1")
		if !got.Revoked() || got.LastIP != "10.0.0.1" || !got.LastUsed.Equal(epoch.Add(time.Second)) {
			t.Errorf("GetAPIKey() after touch+revoke = %+v", got)
		}

		list, err := s.ListAPIKeys(ctx, "7")
		if err != nil || len(list) != 1 {
			t.Errorf("ListAPIKeys() = %d keys, %v; want 1", len(list), err)
		}
		if _, err := s.GetAPIKeyByHash(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetAPIKeyByHash(unknown) error = %v", err)
		}
	})

	t.Run("app passwords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, id := range []string{"p1", "p2"} {
			err := s.CreateAppPassword(ctx, &AppPasswordRecord{
				ID: id, UserID: "3", Login: "alice", Name: id, Hash: "$argon2id$x",
				Roles: []string{"editor"}, CreatedAt: epoch.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatalf("CreateAppPassword(%s) error = %v", id, err)
			}
		}
		if err := s.RevokeAppPassword(ctx, "p1", epoch); err != nil {
			t.Fatalf("RevokeAppPassword() error = %v", err)
		}
		if err := s.TouchAppPassword(ctx, "p2", epoch, "::1"); err != nil {
			t.Fatalf("TouchAppPassword() error = %v", err)
		}
		list, err := s.ListAppPasswords(ctx, "alice")
		if err != nil || len(list) != 2 {
			t.Fatalf("ListAppPasswords() = %d, %v; want 2", len(list), err)
		}
		if list[0].ID != "p1" || !list[0].Revoked() || list[1].LastIP != "::1" {
			t.Errorf("ListAppPasswords() = %+v, %+v", list[0], list[1])
		}
		if _, err := s.GetAppPassword(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetAppPassword(unknown) error = %v", err)
		}
	})

	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, r := tokenPair("1", "s1", "a1", "r1", epoch)
		_ = s.CreateTokens(ctx, a, r)

		n, err := s.DeleteExpiredTokens(ctx, epoch.Add(2*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("DeleteExpiredTokens() = %d, %v; want 1", n, err)
		}
		if _, err := s.GetToken(ctx, "a1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expired access token still present: %v", err)
		}
		if _, err := s.GetToken(ctx, "r1"); err != nil {
			t.Errorf("live refresh token removed: %v", err)
		}
	})
}

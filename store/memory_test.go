package store

import (
	"context"
	"testing"
)

func TestMemory_Conformance(t *testing.T) {
	runStoreConformance(t, func(*testing.T) Store { return NewMemory() })
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	a, r := tokenPair("1", "s1", "a1", "r1", epoch)
	_ = s.CreateTokens(ctx, a, r)

	a.Roles[0] = "administrator"
	got, _ := s.GetToken(ctx, "a1")
	if got.Roles[0] != "editor" {
		t.Errorf("stored record aliased caller slice: %v", got.Roles)
	}
	got.Roles[0] = "administrator"
	again, _ := s.GetToken(ctx, "a1")
	if again.Roles[0] != "editor" {
		t.Errorf("GetToken() returned shared record: %v", again.Roles)
	}
}

func TestMemory_CreateTokensIsAllOrNothing(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	a, r := tokenPair("1", "s1", "a1", "r1", epoch)
	_ = s.CreateTokens(ctx, a)

	if err := s.CreateTokens(ctx, r, a); err != ErrDuplicate {
		t.Fatalf("CreateTokens() error = %v, want ErrDuplicate", err)
	}
	if _, err := s.GetToken(ctx, "r1"); err != ErrNotFound {
		t.Errorf("partial insert persisted r1: %v", err)
	}
}

package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, "12345", "alice", []byte("hash")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateUser(ctx, "12345", "other", []byte("hash2")); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUser(ctx, "12345")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil || user.Nickname != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}

	missing, err := store.GetUser(ctx, "99999")
	if err != nil {
		t.Fatalf("GetUser missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown user, got %+v", missing)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, "23456", "bob", []byte("hash")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	exp := time.Now().Add(time.Hour)
	if err := store.CreateSession(ctx, "23456", "token123", exp); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	session, err := store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session == nil || session.UserID != "23456" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if err := store.DeleteSession(ctx, "token123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	session, err = store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session after delete")
	}
}

func TestSpacePersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := SpaceRecord{ID: "1700000000000", Name: "team", Members: []string{"11111", "22222"}}
	second := SpaceRecord{ID: "1700000000001", Name: "friends", Members: []string{"11111"}}
	if err := store.SaveSpace(ctx, first); err != nil {
		t.Fatalf("SaveSpace first: %v", err)
	}
	if err := store.SaveSpace(ctx, second); err != nil {
		t.Fatalf("SaveSpace second: %v", err)
	}

	if err := store.AddSpaceMember(ctx, first.ID, "33333"); err != nil {
		t.Fatalf("AddSpaceMember: %v", err)
	}
	if err := store.AddSpaceMember(ctx, first.ID, "33333"); !errors.Is(err, ErrMemberExists) {
		t.Fatalf("expected ErrMemberExists, got %v", err)
	}

	records, err := store.ListSpaces(ctx)
	if err != nil {
		t.Fatalf("ListSpaces: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 spaces, got %d", len(records))
	}
	if records[0].ID != first.ID || records[1].ID != second.ID {
		t.Fatalf("spaces out of creation order: %+v", records)
	}
	wantMembers := []string{"11111", "22222", "33333"}
	if len(records[0].Members) != len(wantMembers) {
		t.Fatalf("unexpected members: %v", records[0].Members)
	}
	for i, member := range wantMembers {
		if records[0].Members[i] != member {
			t.Fatalf("member order mismatch at %d: %v", i, records[0].Members)
		}
	}
}

func TestCacheStore(t *testing.T) {
	cache, err := NewCacheStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewCacheStore: %v", err)
	}
	t.Cleanup(func() {
		_ = cache.Close()
	})

	if _, ok, err := cache.Get("missing"); err != nil || ok {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}
	if err := cache.Put("publicMessages", `[{"user":"alice"}]`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, ok, err := cache.Get("publicMessages")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if value != `[{"user":"alice"}]` {
		t.Fatalf("unexpected value: %s", value)
	}
	if err := cache.Put("publicMessages", `[]`); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	value, _, err = cache.Get("publicMessages")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if value != `[]` {
		t.Fatalf("overwrite did not stick: %s", value)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

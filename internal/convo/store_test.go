package convo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := &Session{SessionID: "s1", UserID: "u1", CreatedAt: time.Now(), LastActivityAt: time.Now()}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, sess); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create err = %v, want ErrAlreadyExists", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u1" {
		t.Fatalf("user = %q", got.UserID)
	}

	// Mutating a fetched session must not leak into the store.
	got.UserID = "mutated"
	again, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.UserID != "u1" {
		t.Fatalf("store returned a shared reference")
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("second delete must be idempotent: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
	if err := store.Put(ctx, sess); !errors.Is(err, ErrNotFound) {
		t.Fatalf("put after delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sess := &Session{SessionID: fmt.Sprintf("s%d", i)}
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	ids, err := store.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("len(ids) = %d", len(ids))
	}
}

func TestMessageCapKeepsMostRecent(t *testing.T) {
	sess := &Session{SessionID: "s1"}
	for i := 0; i < MaxMessages+1; i++ {
		sess.appendMessage(RoleUser, fmt.Sprintf("message %d", i))
	}
	if len(sess.Messages) != MaxMessages {
		t.Fatalf("len(messages) = %d, want %d", len(sess.Messages), MaxMessages)
	}
	if sess.Messages[0].Content != "message 1" {
		t.Fatalf("oldest retained = %q, want message 1", sess.Messages[0].Content)
	}
	if sess.Messages[len(sess.Messages)-1].Content != fmt.Sprintf("message %d", MaxMessages) {
		t.Fatalf("newest retained = %q", sess.Messages[len(sess.Messages)-1].Content)
	}
}

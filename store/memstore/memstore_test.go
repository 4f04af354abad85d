package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/securestorage/authcore"
)

func TestUserSaveAndEmailIndex(t *testing.T) {
	s := New()
	users := s.Users()
	ctx := context.Background()

	a := &authcore.Identity{UserID: "u1", Email: "a@example.com", Authorities: []string{"x"}}
	if err := users.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.ID != 1 {
		t.Fatalf("expected assigned id 1, got %d", a.ID)
	}

	got, err := users.FindByEmail(ctx, "A@EXAMPLE.COM")
	if err != nil || got.UserID != "u1" {
		t.Fatalf("find by email: %v %+v", err, got)
	}
	got.Authorities[0] = "mutated"
	again, _ := users.FindByUserID(ctx, "u1")
	if again.Authorities[0] != "x" {
		t.Fatal("returned identity shares memory with the store")
	}

	b := &authcore.Identity{UserID: "u2", Email: "a@example.com"}
	if err := users.Save(ctx, b); !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	a.Email = "renamed@example.com"
	if err := users.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := users.FindByEmail(ctx, "a@example.com"); !errors.Is(err, authcore.ErrIdentityNotFound) {
		t.Fatalf("old email should be released, got %v", err)
	}
}

func TestConfirmationOneKeyPerUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Save(ctx, &authcore.Confirmation{Key: "k1", UserID: "u1"})
	_ = s.Save(ctx, &authcore.Confirmation{Key: "k2", UserID: "u1"})

	if _, err := s.FindByKey(ctx, "k1"); !errors.Is(err, authcore.ErrConfirmationNotFound) {
		t.Fatalf("replaced key should be gone, got %v", err)
	}
	c, err := s.FindByUserID(ctx, "u1")
	if err != nil || c.Key != "k2" {
		t.Fatalf("find by user: %v %+v", err, c)
	}
	if err := s.Delete(ctx, "k2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k2"); err != nil {
		t.Fatal("delete must be idempotent")
	}
	if _, err := s.FindByUserID(ctx, "u1"); !errors.Is(err, authcore.ErrConfirmationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCredentialNotFound(t *testing.T) {
	s := New()
	if _, err := s.Credentials().FindByUserID(context.Background(), "nope"); !errors.Is(err, authcore.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestUserUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Users().Save(ctx, &authcore.Identity{UserID: "u1", Email: "a@example.com", NonLocked: true}); err != nil {
		t.Fatal(err)
	}

	updater, ok := s.Users().(authcore.IdentityUpdater)
	if !ok {
		t.Fatal("memstore users must support atomic updates")
	}
	got, err := updater.Update(ctx, "u1", func(i *authcore.Identity) {
		i.NonLocked = false
		i.LoginAttempts = 6
	})
	if err != nil || got.NonLocked || got.LoginAttempts != 6 || got.ID != 1 {
		t.Fatalf("update: %+v %v", got, err)
	}
	again, _ := s.Users().FindByUserID(ctx, "u1")
	if again.NonLocked || again.LoginAttempts != 6 {
		t.Fatalf("update not persisted: %+v", again)
	}

	if _, err := updater.Update(ctx, "missing", func(*authcore.Identity) {}); !errors.Is(err, authcore.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

package gormstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/securestorage/authcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), GormConfig(false))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newIdentity(userID, email string) *authcore.Identity {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &authcore.Identity{
		UserID:      userID,
		Email:       email,
		FirstName:   "Grace",
		Role:        "USER",
		Authorities: []string{"document:read", "document:create"},
		Enabled:     true,
		NonExpired:  true,
		NonLocked:   true,
		LastLogin:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestUserStoreRoundTrip(t *testing.T) {
	s := New(openTestDB(t))
	users := s.Users()
	ctx := context.Background()

	id := newIdentity("u-1", "Grace@Example.com")
	if err := users.Save(ctx, id); err != nil {
		t.Fatalf("save: %v", err)
	}
	if id.ID == 0 {
		t.Fatal("row id not written back")
	}

	got, err := users.FindByEmail(ctx, "grace@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.UserID != "u-1" || len(got.Authorities) != 2 || !got.NonLocked {
		t.Fatalf("unexpected identity %+v", got)
	}

	got.NonLocked = false
	got.LoginAttempts = 6
	if err := users.Save(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := users.FindByUserID(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.NonLocked || again.LoginAttempts != 6 {
		t.Fatalf("update not persisted: %+v", again)
	}

	if _, err := users.FindByUserID(ctx, "missing"); !errors.Is(err, authcore.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestUserStoreDuplicateEmail(t *testing.T) {
	s := New(openTestDB(t))
	ctx := context.Background()

	if err := s.Users().Save(ctx, newIdentity("u-1", "same@example.com")); err != nil {
		t.Fatal(err)
	}
	err := s.Users().Save(ctx, newIdentity("u-2", "same@example.com"))
	if !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestCredentialUpsert(t *testing.T) {
	s := New(openTestDB(t))
	creds := s.Credentials()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := creds.Save(ctx, &authcore.Credential{UserID: "u-1", Hash: "h1", UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := creds.Save(ctx, &authcore.Credential{UserID: "u-1", Hash: "h2", UpdatedAt: t0.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	got, err := creds.FindByUserID(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != "h2" || !got.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected credential %+v", got)
	}
	if _, err := creds.FindByUserID(ctx, "u-2"); !errors.Is(err, authcore.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestConfirmationReplacePerUser(t *testing.T) {
	s := New(openTestDB(t))
	conf := s.Confirmations()
	ctx := context.Background()

	_ = conf.Save(ctx, &authcore.Confirmation{Key: "k1", UserID: "u-1", CreatedAt: time.Now()})
	if err := conf.Save(ctx, &authcore.Confirmation{Key: "k2", UserID: "u-1", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := conf.FindByKey(ctx, "k1"); !errors.Is(err, authcore.ErrConfirmationNotFound) {
		t.Fatalf("old key should be replaced, got %v", err)
	}
	c, err := conf.FindByUserID(ctx, "u-1")
	if err != nil || c.Key != "k2" {
		t.Fatalf("find by user: %v %+v", err, c)
	}
	if err := conf.Delete(ctx, "k2"); err != nil {
		t.Fatal(err)
	}
	if _, err := conf.FindByKey(ctx, "k2"); !errors.Is(err, authcore.ErrConfirmationNotFound) {
		t.Fatalf("expected deleted, got %v", err)
	}
}

func TestEngineOnGormStore(t *testing.T) {
	s := New(openTestDB(t))
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 4
	cfg.Account.RequireVerification = false

	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserDirectory(s.Users()).
		WithCredentialStore(s.Credentials()).
		WithConfirmationStore(s.Confirmations()).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	ctx := context.Background()
	if _, err := engine.Register(ctx, authcore.RegisterRequest{Email: "db@example.com", Password: "password-123"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Register(ctx, authcore.RegisterRequest{Email: "db@example.com", Password: "password-123"}); !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("duplicate: %v", err)
	}
	res, err := engine.Login(ctx, "db@example.com", "password-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken == "" {
		t.Fatal("no access token")
	}
}

func TestUserStoreUpdate(t *testing.T) {
	s := New(openTestDB(t))
	ctx := context.Background()
	if err := s.Users().Save(ctx, newIdentity("u-1", "lock@example.com")); err != nil {
		t.Fatal(err)
	}

	updater, ok := s.Users().(authcore.IdentityUpdater)
	if !ok {
		t.Fatal("gorm user store must support atomic updates")
	}
	got, err := updater.Update(ctx, "u-1", func(i *authcore.Identity) {
		i.NonLocked = false
		i.LoginAttempts = 6
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.NonLocked || got.LoginAttempts != 6 {
		t.Fatalf("unexpected identity %+v", got)
	}
	again, err := s.Users().FindByUserID(ctx, "u-1")
	if err != nil || again.NonLocked || again.LoginAttempts != 6 {
		t.Fatalf("update not persisted: %+v %v", again, err)
	}

	if _, err := updater.Update(ctx, "missing", func(*authcore.Identity) {}); !errors.Is(err, authcore.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

package password

import (
	"errors"
	"strings"
	"testing"
)

func fastArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newArgon(t *testing.T, cfg Argon2Config) *Argon2id {
	t.Helper()
	a, err := NewArgon2id(cfg)
	if err != nil {
		t.Fatalf("NewArgon2id: %v", err)
	}
	return a
}

func TestArgon2HashAndVerify(t *testing.T) {
	a := newArgon(t, fastArgon2Config())

	hash, err := a.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if !a.Recognizes(hash) {
		t.Fatal("expected hasher to recognize its own output")
	}

	ok, err := a.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = a.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := newArgon(t, fastArgon2Config())
	hash, err := weak.Hash("upgrade-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("same parameters should not need upgrade, up=%v err=%v", up, err)
	}

	stronger := fastArgon2Config()
	stronger.Time = 2
	if up, err := newArgon(t, stronger).NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("weaker hash should need upgrade, up=%v err=%v", up, err)
	}
}

func TestArgon2RejectsMalformedHash(t *testing.T) {
	a := newArgon(t, fastArgon2Config())
	hash, err := a.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	for name, encoded := range map[string]string{
		"garbage":       "not-a-phc-hash",
		"wrong version": strings.Replace(hash, "$v=19$", "$v=18$", 1),
		"bad params":    strings.Replace(hash, "m=8192", "m=1", 1),
		"bad salt":      strings.Replace(hash, "$m=8192,t=1,p=1$", "$m=8192,t=1,p=1$!!", 1),
	} {
		if _, err := a.Verify("version-test", encoded); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestArgon2LengthLimits(t *testing.T) {
	cfg := fastArgon2Config()
	cfg.MaxPasswordBytes = 64
	a := newArgon(t, cfg)

	if _, err := a.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := a.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	exact := strings.Repeat("b", 64)
	hash, err := a.Hash(exact)
	if err != nil {
		t.Fatalf("max-length password should hash: %v", err)
	}
	if ok, err := a.Verify(exact, hash); err != nil || !ok {
		t.Fatalf("max-length password should verify, ok=%v err=%v", ok, err)
	}
	if _, err := a.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong on verify, got %v", err)
	}
}

func TestArgon2DefaultMaxApplied(t *testing.T) {
	a := newArgon(t, fastArgon2Config())
	if _, err := a.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected > %d bytes to be rejected, got %v", DefaultMaxPasswordBytes, err)
	}
}

func TestNewArgon2idRejectsWeakConfig(t *testing.T) {
	cfg := fastArgon2Config()
	cfg.Memory = 1024
	if _, err := NewArgon2id(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	cfg = fastArgon2Config()
	cfg.SaltLength = 8
	if _, err := NewArgon2id(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

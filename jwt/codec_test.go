package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestCodec(t *testing.T, clk *clock) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		PrivateKey: testKey,
		Issuer:     "securestorage",
		Now:        clk.Now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestMintValidateRoundTrip(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clk)

	tok, err := c.Mint(Access, "user-1", []string{"document:read", "user:update"}, clk.now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := c.Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "user-1" || claims.Kind() != Access {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !reflect.DeepEqual(claims.Authorities, []string{"document:read", "user:update"}) {
		t.Fatalf("unexpected authorities %v", claims.Authorities)
	}
	if !claims.IssuedAt.Time.Equal(clk.now) {
		t.Fatalf("unexpected iat %v", claims.IssuedAt.Time)
	}
}

func TestValidateFailsAfterTTL(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clk)
	t0 := clk.now

	for _, k := range []Kind{Access, Refresh} {
		tok, err := c.Mint(k, "user-1", nil, t0)
		if err != nil {
			t.Fatalf("mint %s: %v", k, err)
		}

		clk.now = t0.Add(c.TTL(k) - time.Second)
		if _, err := c.ValidateKind(k, tok); err != nil {
			t.Fatalf("%s token should still be valid: %v", k, err)
		}

		clk.now = t0.Add(c.TTL(k) + time.Second)
		if _, err := c.ValidateKind(k, tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s token should be expired, got %v", k, err)
		}
	}
}

func TestValidateCollapsesFailures(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clk)

	good, _ := c.Mint(Access, "user-1", nil, clk.now)
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	other, _ := NewCodec(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, PrivateKey: []byte("another-key-another-key-another!"), Issuer: "securestorage", Now: clk.Now})
	foreign, _ := other.Mint(Access, "user-1", nil, clk.now)

	unsigned := gjwt.NewWithClaims(gjwt.SigningMethodNone, Claims{
		TokenKind:        "access",
		RegisteredClaims: gjwt.RegisteredClaims{Subject: "user-1", ExpiresAt: gjwt.NewNumericDate(clk.now.Add(time.Minute))},
	})
	none, _ := unsigned.SignedString(gjwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"empty":    "",
		"garbage":  "not.a.token",
		"tampered": tampered,
		"foreign":  foreign,
		"none":     none,
	} {
		if _, err := c.Validate(tok); err != ErrInvalidToken {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestValidateKindRejectsWrongKind(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clk)

	refresh, _ := c.Mint(Refresh, "user-1", nil, clk.now)
	if _, err := c.ValidateKind(Access, refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not pass as access, got %v", err)
	}
	if _, err := c.ValidateKind(Refresh, refresh); err != nil {
		t.Fatalf("refresh token should validate as refresh: %v", err)
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := NewCodec(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		KeyID:         "k1",
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	tok, err := c.Mint(Refresh, "user-9", []string{"admin"}, time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := c.ValidateKind(Refresh, tok); err != nil {
		t.Fatalf("validate: %v", err)
	}

	hs := newTestCodec(t, &clock{now: time.Now()})
	hsTok, _ := hs.Mint(Refresh, "user-9", nil, time.Now())
	if _, err := c.Validate(hsTok); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expected algorithm mismatch to be rejected")
	}
}

func TestNewCodecRejectsBadConfig(t *testing.T) {
	cases := map[string]Config{
		"no ttl":        {RefreshTTL: time.Hour, PrivateKey: testKey},
		"no key":        {AccessTTL: time.Minute, RefreshTTL: time.Hour},
		"big leeway":    {AccessTTL: time.Minute, RefreshTTL: time.Hour, PrivateKey: testKey, Leeway: time.Hour},
		"bad method":    {AccessTTL: time.Minute, RefreshTTL: time.Hour, PrivateKey: testKey, SigningMethod: "rs256"},
		"ed no pubkey":  {AccessTTL: time.Minute, RefreshTTL: time.Hour, PrivateKey: make([]byte, ed25519.PrivateKeySize), SigningMethod: MethodEd25519},
		"ed bad keylen": {AccessTTL: time.Minute, RefreshTTL: time.Hour, PrivateKey: []byte("short"), PublicKey: []byte("short"), SigningMethod: MethodEd25519},
	}
	for name, cfg := range cases {
		if _, err := NewCodec(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCookieRoundTrip(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clk)
	cfg := CookieConfig{AccessName: "ACCESS", RefreshName: "REFRESH", Path: "/", Secure: true, SameSite: http.SameSiteStrictMode}

	tok, _ := c.Mint(Access, "user-1", nil, clk.now)
	cookie := c.Cookie(cfg, Access, tok)
	if cookie.Name != "ACCESS" || !cookie.HttpOnly || !cookie.Secure || cookie.Path != "/" {
		t.Fatalf("unexpected cookie %+v", cookie)
	}
	if cookie.MaxAge != 300 {
		t.Fatalf("expected max-age 300, got %d", cookie.MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	got, ok := FromRequest(req, cfg, Access)
	if !ok || got != tok {
		t.Fatalf("expected token back from request, ok=%v", ok)
	}
	if _, ok := FromRequest(req, cfg, Refresh); ok {
		t.Fatal("refresh cookie should be absent")
	}

	expired := ExpireCookie(cfg, Refresh)
	if expired.Name != "REFRESH" || expired.MaxAge >= 0 || expired.Value != "" {
		t.Fatalf("unexpected expiry cookie %+v", expired)
	}
}

package authcore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/securestorage/authcore"
	"github.com/securestorage/authcore/store/memstore"
	"github.com/securestorage/authcore/totp"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
}

func (n *recordingNotifier) SendVerification(_ context.Context, _, email, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[email] = key
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, _, email, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[email] = key
	return nil
}

func (n *recordingNotifier) verificationKey(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[email]
}

func (n *recordingNotifier) resetKey(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reset[email]
}

type harness struct {
	engine   *authcore.Engine
	store    *memstore.Store
	clock    *testClock
	notifier *recordingNotifier
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 4
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t *testing.T, mutate func(*authcore.Config)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		store: memstore.New(),
		clock: &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{
			verification: map[string]string{},
			reset:        map[string]string{},
		},
	}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserDirectory(h.store.Users()).
		WithCredentialStore(h.store.Credentials()).
		WithConfirmationStore(h.store.Confirmations()).
		WithNotifier(h.notifier).
		WithClock(h.clock.Now).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// register creates and verifies an account.
func (h *harness) register(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()

	userID, err := h.engine.Register(ctx, authcore.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.engine.VerifyAccount(ctx, h.notifier.verificationKey(email)); err != nil {
		t.Fatalf("verify account: %v", err)
	}
	return userID
}

func (h *harness) identity(t *testing.T, userID string) *authcore.Identity {
	t.Helper()
	i, err := h.store.Users().FindByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("find identity: %v", err)
	}
	return i
}

func (h *harness) resetGrant(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()

	if err := h.engine.RequestPasswordReset(ctx, email); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	grant, err := h.engine.VerifyPasswordReset(ctx, h.notifier.resetKey(email))
	if err != nil {
		t.Fatalf("verify reset: %v", err)
	}
	return grant.Token
}

func (h *harness) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.New(totp.Config{Issuer: "SecureStorage", Skew: 1}).Code(secret, h.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

func TestRegisterThenLogin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	userID, err := h.engine.Register(ctx, authcore.RegisterRequest{
		FirstName: "Ada",
		Email:     "Ada@Example.com",
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := h.engine.Login(ctx, "ada@example.com", testPassword); !errors.Is(err, authcore.ErrAccountDisabled) {
		t.Fatalf("unverified login: expected ErrAccountDisabled, got %v", err)
	}

	key := h.notifier.verificationKey("ada@example.com")
	if key == "" {
		t.Fatal("verification key not sent")
	}
	if err := h.engine.VerifyAccount(ctx, key); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := h.engine.VerifyAccount(ctx, key); !errors.Is(err, authcore.ErrConfirmationInvalid) {
		t.Fatalf("key reuse: expected ErrConfirmationInvalid, got %v", err)
	}

	res, err := h.engine.Login(ctx, "  ADA@example.com ", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.UserID != userID || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Authorities) != 4 {
		t.Fatalf("expected default authorities, got %v", res.Authorities)
	}

	p, err := h.engine.Authorize(res.AccessToken)
	if err != nil || p.UserID != userID {
		t.Fatalf("authorize: %v %+v", err, p)
	}
	if _, err := h.engine.Authorize(res.RefreshToken); !errors.Is(err, authcore.ErrInvalidToken) {
		t.Fatalf("refresh token must not authorize, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "dup@example.com")

	_, err := h.engine.Register(context.Background(), authcore.RegisterRequest{
		Email:    "DUP@example.com",
		Password: testPassword,
	})
	if !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[authcore.MetricAccountDuplicate]; got != 1 {
		t.Fatalf("duplicate metric = %d", got)
	}
}

func TestRegisterPasswordPolicy(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Register(context.Background(), authcore.RegisterRequest{
		Email:    "short@example.com",
		Password: "short",
	})
	if !errors.Is(err, authcore.ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestVerificationKeyExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.engine.Register(ctx, authcore.RegisterRequest{Email: "late@example.com", Password: testPassword}); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(25 * time.Hour)

	if err := h.engine.VerifyAccount(ctx, h.notifier.verificationKey("late@example.com")); !errors.Is(err, authcore.ErrConfirmationInvalid) {
		t.Fatalf("expected ErrConfirmationInvalid, got %v", err)
	}
}

func TestLoginWrongPasswordIsBadCredentials(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "bob@example.com")

	_, errUnknown := h.engine.Login(context.Background(), "nobody@example.com", testPassword)
	_, errWrong := h.engine.Login(context.Background(), "bob@example.com", "wrong-password")
	if !errors.Is(errUnknown, authcore.ErrBadCredentials) || !errors.Is(errWrong, authcore.ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials for both, got %v / %v", errUnknown, errWrong)
	}
	if authcore.ErrorMessage(errUnknown) != authcore.ErrorMessage(errWrong) {
		t.Fatal("messages must not distinguish unknown email from wrong password")
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "eve@example.com")

	for i := 0; i < 5; i++ {
		if _, err := h.engine.Login(ctx, "eve@example.com", "wrong-password"); !errors.Is(err, authcore.ErrBadCredentials) {
			t.Fatalf("attempt %d: expected ErrBadCredentials, got %v", i+1, err)
		}
	}
	if !h.identity(t, userID).NonLocked {
		t.Fatal("five failures must not lock")
	}

	if _, err := h.engine.Login(ctx, "eve@example.com", "wrong-password"); !errors.Is(err, authcore.ErrBadCredentials) {
		t.Fatalf("sixth attempt: expected ErrBadCredentials, got %v", err)
	}
	if h.identity(t, userID).NonLocked {
		t.Fatal("sixth failure must lock")
	}

	if _, err := h.engine.Login(ctx, "eve@example.com", testPassword); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("locked login: expected ErrAccountLocked, got %v", err)
	}

	h.clock.Advance(16 * time.Minute)
	if _, err := h.engine.Login(ctx, "eve@example.com", testPassword); err != nil {
		t.Fatalf("login after window: %v", err)
	}
	i := h.identity(t, userID)
	if !i.NonLocked || i.LoginAttempts != 0 {
		t.Fatalf("expected unlocked with zero attempts, got %+v", i)
	}
}

func TestAdministrativeLockSurvivesWindow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "admin-locked@example.com")

	if err := h.engine.SetAccountFlag(ctx, userID, authcore.FlagLocked, true); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Hour)
	if _, err := h.engine.Login(ctx, "admin-locked@example.com", testPassword); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if err := h.engine.SetAccountFlag(ctx, userID, authcore.FlagLocked, false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Login(ctx, "admin-locked@example.com", testPassword); err != nil {
		t.Fatalf("login after unlock: %v", err)
	}
}

func TestAccountFlagsGateLogin(t *testing.T) {
	tests := []struct {
		flag authcore.AccountFlag
		want error
	}{
		{authcore.FlagAccountExpired, authcore.ErrAccountExpired},
		{authcore.FlagCredentialsExpired, authcore.ErrCredentialsExpired},
	}
	for _, tc := range tests {
		t.Run(tc.flag.String(), func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			userID := h.register(t, "flag@example.com")

			if err := h.engine.SetAccountFlag(ctx, userID, tc.flag, true); err != nil {
				t.Fatal(err)
			}
			if _, err := h.engine.Login(ctx, "flag@example.com", testPassword); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err := h.engine.SetAccountFlag(ctx, userID, tc.flag, false); err != nil {
				t.Fatal(err)
			}
			if _, err := h.engine.Login(ctx, "flag@example.com", testPassword); err != nil {
				t.Fatalf("login after clearing flag: %v", err)
			}
		})
	}
}

func TestLockoutHoldsUnderConcurrentFailures(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "burst@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.Login(ctx, "burst@example.com", "wrong-password")
		}()
	}
	wg.Wait()

	if h.identity(t, userID).NonLocked {
		t.Fatal("concurrent failures must leave the account locked")
	}
	if _, err := h.engine.Login(ctx, "burst@example.com", testPassword); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestCredentialAging(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "old@example.com")

	h.clock.Advance(91 * 24 * time.Hour)
	if _, err := h.engine.Login(ctx, "old@example.com", testPassword); !errors.Is(err, authcore.ErrCredentialsExpired) {
		t.Fatalf("expected ErrCredentialsExpired, got %v", err)
	}

	if err := h.engine.ResetPassword(ctx, h.resetGrant(t, "old@example.com"), "a-brand-new-password", "a-brand-new-password"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Login(ctx, "old@example.com", "a-brand-new-password"); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "reset@example.com")

	if err := h.engine.RequestPasswordReset(ctx, "unknown@example.com"); err != nil {
		t.Fatalf("unknown email must not error, got %v", err)
	}
	if err := h.engine.RequestPasswordReset(ctx, "reset@example.com"); err != nil {
		t.Fatal(err)
	}
	key := h.notifier.resetKey("reset@example.com")
	if key == "" {
		t.Fatal("reset key not sent")
	}

	grant, err := h.engine.VerifyPasswordReset(ctx, key)
	if err != nil {
		t.Fatalf("verify reset: %v", err)
	}
	if grant.Identity.UserID != userID || grant.Token == "" {
		t.Fatalf("reset key resolved to %+v", grant)
	}
	if _, err := h.engine.VerifyPasswordReset(ctx, key); !errors.Is(err, authcore.ErrConfirmationInvalid) {
		t.Fatalf("reset key reuse: got %v", err)
	}

	if err := h.engine.ResetPassword(ctx, grant.Token, "new-password-1", "new-password-2"); !errors.Is(err, authcore.ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := h.engine.ResetPassword(ctx, grant.Token, "new-password-1", "new-password-1"); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.ResetPassword(ctx, grant.Token, "new-password-2", "new-password-2"); !errors.Is(err, authcore.ErrConfirmationInvalid) {
		t.Fatalf("grant reuse: got %v", err)
	}
	if _, err := h.engine.Login(ctx, "reset@example.com", testPassword); !errors.Is(err, authcore.ErrBadCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "reset@example.com", "new-password-1"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestResetPasswordRequiresGrant(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "victim@example.com")

	for _, grant := range []string{"", userID, "not-a-grant"} {
		if err := h.engine.ResetPassword(ctx, grant, "attacker-password", "attacker-password"); !errors.Is(err, authcore.ErrConfirmationInvalid) {
			t.Fatalf("grant %q: expected ErrConfirmationInvalid, got %v", grant, err)
		}
	}
	if _, err := h.engine.Login(ctx, "victim@example.com", "attacker-password"); !errors.Is(err, authcore.ErrBadCredentials) {
		t.Fatalf("rejected reset must not change the password, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "victim@example.com", testPassword); err != nil {
		t.Fatalf("original password must still work: %v", err)
	}
}

func TestResetGrantExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "late@example.com")

	grant := h.resetGrant(t, "late@example.com")
	h.clock.Advance(16 * time.Minute)
	if err := h.engine.ResetPassword(ctx, grant, "too-late-password", "too-late-password"); !errors.Is(err, authcore.ErrConfirmationInvalid) {
		t.Fatalf("expired grant: got %v", err)
	}
}

func TestResetGrantSurvivesPolicyFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "policy@example.com")

	grant := h.resetGrant(t, "policy@example.com")
	if err := h.engine.ResetPassword(ctx, grant, "short", "short"); !errors.Is(err, authcore.ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := h.engine.ResetPassword(ctx, grant, "long-enough-password", "long-enough-password"); err != nil {
		t.Fatalf("grant must survive a rejected password: %v", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "change@example.com")

	if err := h.engine.UpdatePassword(ctx, userID, "not-the-password", "next-password", "next-password"); !errors.Is(err, authcore.ErrCurrentPasswordInvalid) {
		t.Fatalf("expected ErrCurrentPasswordInvalid, got %v", err)
	}
	if err := h.engine.UpdatePassword(ctx, userID, testPassword, "next-password", "next-password"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Login(ctx, "change@example.com", "next-password"); err != nil {
		t.Fatalf("login with updated password: %v", err)
	}
}

func TestUpdateAuthoritiesAppliesToNextLogin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "role@example.com")

	if err := h.engine.UpdateAuthorities(ctx, userID, "admin", []string{"document:read", "user:update"}); err != nil {
		t.Fatal(err)
	}
	res, err := h.engine.Login(ctx, "role@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	p, err := h.engine.Authorize(res.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if !p.HasAuthority("user:update") || p.HasAuthority("document:delete") {
		t.Fatalf("unexpected authorities %v", p.Authorities)
	}
	if h.identity(t, userID).Role != "ADMIN" {
		t.Fatal("role should be stored upper-case")
	}
}

func TestUpdateProfileKeepsEmptyFields(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "profile@example.com")

	updated, err := h.engine.UpdateProfile(ctx, userID, authcore.ProfileUpdate{FirstName: " Grace "})
	if err != nil {
		t.Fatal(err)
	}
	if updated.FirstName != "Grace" || updated.LastName != "Lovelace" {
		t.Fatalf("unexpected names %q %q", updated.FirstName, updated.LastName)
	}
	got, err := h.engine.Profile(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name() != "Grace Lovelace" {
		t.Fatalf("expected stored name, got %q", got.Name())
	}
	if _, err := h.engine.Profile(ctx, "missing"); !errors.Is(err, authcore.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestMFALogin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "mfa@example.com")

	setup, err := h.engine.SetupMFA(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if setup.Secret == "" || setup.ImageURI == "" {
		t.Fatalf("incomplete setup %+v", setup)
	}

	res, err := h.engine.Login(ctx, "mfa@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if !res.MFARequired || res.ChallengeID == "" || res.AccessToken != "" {
		t.Fatalf("expected pending MFA, got %+v", res)
	}

	if _, err := h.engine.ConfirmLoginMFA(ctx, res.ChallengeID, "000000x"); !errors.Is(err, authcore.ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
	done, err := h.engine.ConfirmLoginMFA(ctx, res.ChallengeID, h.code(t, setup.Secret))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.AccessToken == "" || done.RefreshToken == "" {
		t.Fatal("tokens not issued after MFA")
	}
	if _, err := h.engine.ConfirmLoginMFA(ctx, res.ChallengeID, h.code(t, setup.Secret)); !errors.Is(err, authcore.ErrMFAChallengeInvalid) {
		t.Fatalf("challenge reuse: expected ErrMFAChallengeInvalid, got %v", err)
	}
}

func TestMFAChallengeExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "slow@example.com")
	setup, err := h.engine.SetupMFA(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	res, err := h.engine.Login(ctx, "slow@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(4 * time.Minute)
	if _, err := h.engine.ConfirmLoginMFA(ctx, res.ChallengeID, h.code(t, setup.Secret)); !errors.Is(err, authcore.ErrMFAChallengeInvalid) {
		t.Fatalf("expected ErrMFAChallengeInvalid, got %v", err)
	}
}

func TestVerifyAndCancelMFA(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "cancel@example.com")

	if err := h.engine.VerifyMFA(ctx, userID, "123456"); !errors.Is(err, authcore.ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
	setup, err := h.engine.SetupMFA(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.engine.VerifyMFA(ctx, userID, h.code(t, setup.Secret)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := h.engine.CancelMFA(ctx, userID); err != nil {
		t.Fatal(err)
	}
	i := h.identity(t, userID)
	if i.MFAEnabled || i.MFASecret != "" || i.MFAImageURI != "" {
		t.Fatalf("mfa state not cleared: %+v", i)
	}
	res, err := h.engine.Login(ctx, "cancel@example.com", testPassword)
	if err != nil || res.MFARequired {
		t.Fatalf("login after cancel: %v %+v", err, res)
	}
}

func TestVerifyMFARateLimited(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "guess@example.com")
	if _, err := h.engine.SetupMFA(ctx, userID); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		_ = h.engine.VerifyMFA(ctx, userID, "abcdef")
	}
	if err := h.engine.VerifyMFA(ctx, userID, "abcdef"); !errors.Is(err, authcore.ErrMFARateLimited) {
		t.Fatalf("expected ErrMFARateLimited, got %v", err)
	}
}

func TestResolveSessionRotatesAccess(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	userID := h.register(t, "session@example.com")

	res, err := h.engine.Login(ctx, "session@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}

	got := h.engine.ResolveSession(res.AccessToken, res.RefreshToken)
	if got.Principal == nil || got.Principal.UserID != userID || got.RotatedAccess != "" {
		t.Fatalf("fresh access: %+v", got)
	}

	h.clock.Advance(10 * time.Minute)
	got = h.engine.ResolveSession(res.AccessToken, res.RefreshToken)
	if got.Principal == nil || got.RotatedAccess == "" {
		t.Fatalf("expired access should rotate: %+v", got)
	}
	if _, err := h.engine.Authorize(got.RotatedAccess); err != nil {
		t.Fatalf("rotated token invalid: %v", err)
	}

	h.clock.Advance(8 * 24 * time.Hour)
	if got := h.engine.ResolveSession(res.AccessToken, res.RefreshToken); got.Principal != nil {
		t.Fatalf("expired refresh must be anonymous: %+v", got)
	}
	if got := h.engine.ResolveSession("garbage", ""); got.Principal != nil {
		t.Fatal("garbage must be anonymous")
	}
}

func TestAuditEventsDelivered(t *testing.T) {
	sink := authcore.NewChannelSink(16)
	store := memstore.New()
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserDirectory(store.Users()).
		WithCredentialStore(store.Credentials()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	_, _ = engine.Login(context.Background(), "ghost@example.com", "whatever-pass")
	engine.Close()

	select {
	case ev := <-sink.Events():
		if ev.EventType != "login_failure" || ev.Success || ev.Error != "bad_credentials" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("no audit event delivered")
	}
}

func TestBuildRequiresStores(t *testing.T) {
	cfg := testConfig()
	if _, err := authcore.New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error without stores")
	}
	var nilEngine *authcore.Engine
	if _, err := nilEngine.Login(context.Background(), "a@b.c", testPassword); !errors.Is(err, authcore.ErrEngineNotReady) {
		t.Fatalf("nil engine: got %v", err)
	}
}

func TestAccountOperationsNeedConfirmationStore(t *testing.T) {
	store := memstore.New()
	engine, err := authcore.New().
		WithConfig(testConfig()).
		WithUserDirectory(store.Users()).
		WithCredentialStore(store.Credentials()).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	_, err = engine.Register(context.Background(), authcore.RegisterRequest{Email: "x@example.com", Password: testPassword})
	if !errors.Is(err, authcore.ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

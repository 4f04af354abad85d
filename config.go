package authcore

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/securestorage/authcore/jwt"
	"github.com/securestorage/authcore/password"
)

// Config is the complete engine configuration. Build it from DefaultConfig,
// adjust fields, and hand it to Builder.WithConfig; the Engine keeps its own
// copy.
type Config struct {
	JWT        JWTConfig
	Cookie     CookieConfig
	Lockout    LockoutConfig
	Credential CredentialConfig
	TOTP       TOTPConfig
	Account    AccountConfig
	Password   PasswordConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Security   SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls session token signing.
type JWTConfig struct {
	AccessTTL     time.Duration `toml:"access_ttl"`
	RefreshTTL    time.Duration `toml:"refresh_ttl"`
	SigningMethod string        `toml:"signing_method"` // "hs256" (default) or "ed25519"
	Issuer        string        `toml:"issuer"`
	Leeway        time.Duration `toml:"leeway"`
	KeyID         string        `toml:"key_id"`

	// Keys are never read from a config file; LoadConfigFile resolves the
	// *_file fields into them.
	PrivateKey     []byte `toml:"-"`
	PublicKey      []byte `toml:"-"`
	PrivateKeyFile string `toml:"private_key_file"`
	PublicKeyFile  string `toml:"public_key_file"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls how tokens travel to the browser.
type CookieConfig struct {
	AccessName  string `toml:"access_name"`
	RefreshName string `toml:"refresh_name"`
	Path        string `toml:"path"`
	Domain      string `toml:"domain"`
	Secure      bool   `toml:"secure"`
	SameSite    string `toml:"same_site"` // "strict" (default), "lax" or "none"
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls login attempt tracking. Attempts decay Window after
// the last one; the attempt after MaxAttempts clears the non-locked flag.
type LockoutConfig struct {
	Enabled     bool          `toml:"enabled"`
	MaxAttempts int           `toml:"max_attempts"`
	Window      time.Duration `toml:"window"`
	RedisPrefix string        `toml:"redis_prefix"`
	Shards      int           `toml:"shards"`
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig controls password aging.
type CredentialConfig struct {
	MaxAge time.Duration `toml:"max_age"`
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls MFA enrollment and verification. Algorithm, digits and
// period are fixed by the totp package.
type TOTPConfig struct {
	Issuer                  string        `toml:"issuer"`
	Skew                    uint          `toml:"skew"`
	ImageSize               int           `toml:"image_size"`
	EnforceReplayProtection bool          `toml:"enforce_replay_protection"`
	MFAChallengeTTL         time.Duration `toml:"mfa_challenge_ttl"`
	MFAMaxAttempts          int           `toml:"mfa_max_attempts"`
	VerifyMaxAttempts       int           `toml:"verify_max_attempts"`
	VerifyCooldown          time.Duration `toml:"verify_cooldown"`
	RedisPrefix             string        `toml:"redis_prefix"`
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls registration and confirmation keys. ResetGrantTTL
// bounds the gap between a verified reset key and the new password.
type AccountConfig struct {
	RequireVerification bool          `toml:"require_verification"`
	ConfirmationTTL     time.Duration `toml:"confirmation_ttl"`
	ResetGrantTTL       time.Duration `toml:"reset_grant_ttl"`
	DefaultRole         string        `toml:"default_role"`
	DefaultAuthorities  []string      `toml:"default_authorities"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing scheme for new hashes. Hashes of the
// other scheme still verify and are upgraded on the next successful login.
type PasswordConfig struct {
	Scheme     string                `toml:"scheme"` // "bcrypt" (default) or "argon2id"
	BcryptCost int                   `toml:"bcrypt_cost"`
	Argon2     password.Argon2Config `toml:"argon2"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds hardening switches that change observable timing or
// routing.
type SecurityConfig struct {
	// EqualizeUnknownIdentityTiming runs a password comparison against a dummy
	// hash when the email is unknown.
	EqualizeUnknownIdentityTiming bool `toml:"equalize_unknown_identity_timing"`
	// PublicRoutes bypass the session interceptor entirely.
	PublicRoutes []string `toml:"public_routes"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultPublicRoutes are the account endpoints reachable without a session.
var DefaultPublicRoutes = []string{
	"/user/login",
	"/user/register",
	"/user/verify/account",
	"/user/verify/qrcode",
	"/user/resetpassword",
	"/user/verify/password",
	"/user/resetpassword/reset",
}

// DefaultConfig returns the production defaults. Signing keys are left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodHS256),
			Issuer:        "securestorage",
		},
		Cookie: CookieConfig{
			AccessName:  "ACCESS",
			RefreshName: "REFRESH",
			Path:        "/",
			Secure:      true,
			SameSite:    "strict",
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			MaxAttempts: 5,
			Window:      900 * time.Second,
			RedisPrefix: "ala",
		},
		Credential: CredentialConfig{
			MaxAge: 90 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:                  "SecureStorage",
			Skew:                    1,
			ImageSize:               200,
			EnforceReplayProtection: false,
			MFAChallengeTTL:         3 * time.Minute,
			MFAMaxAttempts:          5,
			VerifyMaxAttempts:       5,
			VerifyCooldown:          time.Minute,
			RedisPrefix:             "amc",
		},
		Account: AccountConfig{
			RequireVerification: true,
			ConfirmationTTL:     24 * time.Hour,
			ResetGrantTTL:       15 * time.Minute,
			DefaultRole:         "USER",
			DefaultAuthorities: []string{
				"document:create",
				"document:read",
				"document:update",
				"document:delete",
			},
		},
		Password: PasswordConfig{
			Scheme:     "bcrypt",
			BcryptCost: password.DefaultBcryptCost,
			Argon2:     password.DefaultArgon2Config(),
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			EqualizeUnknownIdentityTiming: false,
			PublicRoutes:                  append([]string(nil), DefaultPublicRoutes...),
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Account.DefaultAuthorities = cloneStrings(cfg.Account.DefaultAuthorities)
	out.Security.PublicRoutes = cloneStrings(cfg.Security.PublicRoutes)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the Engine cannot run safely with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	switch jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("JWT hs256 secret must be at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("JWT ed25519 requires private and public keys")
		}
	default:
		return errors.New("JWT SigningMethod must be hs256 or ed25519")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0,2m]")
	}

	// Cookie
	if c.Cookie.AccessName == "" || c.Cookie.RefreshName == "" {
		return errors.New("Cookie names must be set")
	}
	if c.Cookie.AccessName == c.Cookie.RefreshName {
		return errors.New("Cookie AccessName and RefreshName must differ")
	}
	if !strings.HasPrefix(c.Cookie.Path, "/") {
		return errors.New("Cookie Path must start with /")
	}
	sameSite, ok := parseSameSite(c.Cookie.SameSite)
	if !ok {
		return errors.New("Cookie SameSite must be strict, lax or none")
	}
	if sameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return errors.New("Cookie SameSite none requires Secure")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.MaxAttempts <= 0 {
			return errors.New("Lockout MaxAttempts must be > 0")
		}
		if c.Lockout.Window <= 0 {
			return errors.New("Lockout Window must be > 0")
		}
	}
	if c.Lockout.Shards < 0 {
		return errors.New("Lockout Shards must be >= 0")
	}

	// Credential
	if c.Credential.MaxAge < 0 {
		return errors.New("Credential MaxAge must be >= 0")
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}
	if c.TOTP.MFAChallengeTTL <= 0 || c.TOTP.MFAChallengeTTL > 15*time.Minute {
		return errors.New("TOTP MFAChallengeTTL must be within (0,15m]")
	}
	if c.TOTP.MFAMaxAttempts <= 0 {
		return errors.New("TOTP MFAMaxAttempts must be > 0")
	}
	if c.TOTP.VerifyMaxAttempts <= 0 {
		return errors.New("TOTP VerifyMaxAttempts must be > 0")
	}
	if c.TOTP.VerifyCooldown <= 0 {
		return errors.New("TOTP VerifyCooldown must be > 0")
	}

	// Account
	if c.Account.ConfirmationTTL < 0 {
		return errors.New("Account ConfirmationTTL must be >= 0")
	}
	if c.Account.ResetGrantTTL <= 0 {
		return errors.New("Account ResetGrantTTL must be > 0")
	}
	for _, a := range c.Account.DefaultAuthorities {
		if strings.TrimSpace(a) == "" {
			return errors.New("Account DefaultAuthorities must not contain empty entries")
		}
	}

	// Password
	switch strings.ToLower(c.Password.Scheme) {
	case "bcrypt", "":
	case "argon2id":
	default:
		return errors.New("Password Scheme must be bcrypt or argon2id")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Security
	for _, route := range c.Security.PublicRoutes {
		if !strings.HasPrefix(route, "/") {
			return errors.New("Security PublicRoutes entries must start with /")
		}
	}

	return nil
}

func parseSameSite(s string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return http.SameSiteStrictMode, true
	case "lax":
		return http.SameSiteLaxMode, true
	case "none":
		return http.SameSiteNoneMode, true
	default:
		return http.SameSiteDefaultMode, false
	}
}

func (c CookieConfig) codecConfig() jwt.CookieConfig {
	sameSite, _ := parseSameSite(c.SameSite)
	return jwt.CookieConfig{
		AccessName:  c.AccessName,
		RefreshName: c.RefreshName,
		Path:        c.Path,
		Domain:      c.Domain,
		Secure:      c.Secure,
		SameSite:    sameSite,
	}
}

package authcore

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/securestorage/authcore/cache"
	internalaudit "github.com/securestorage/authcore/internal/audit"
	"github.com/securestorage/authcore/internal/flows"
	"github.com/securestorage/authcore/internal/limiters"
	"github.com/securestorage/authcore/internal/stores"
	"github.com/securestorage/authcore/jwt"
	"github.com/securestorage/authcore/password"
	"github.com/securestorage/authcore/totp"
)

const (
	totpLimiterRedisPrefix = "atl"
	resetGrantRedisPrefix  = "arg"
	dummyPassword          = "authcore-timing-equalizer"
)

// Builder collects collaborators and configuration for an Engine.
//
// A Builder is single use: Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users         UserDirectory
	credentials   CredentialStore
	confirmations ConfirmationStore
	notifier      Notifier
	counter       cache.Counter
	hasher        password.Hasher
	auditSink     AuditSink
	logger        *slog.Logger
	now           func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis moves the attempt counter, TOTP limiter and MFA challenges to
// Redis so several processes share them.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserDirectory(users UserDirectory) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithCredentialStore(credentials CredentialStore) *Builder {
	b.credentials = credentials
	return b
}

// WithConfirmationStore enables registration, verification and password
// reset.
func (b *Builder) WithConfirmationStore(confirmations ConfirmationStore) *Builder {
	b.confirmations = confirmations
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithCounter overrides the login attempt counter. It takes precedence over
// WithRedis for that counter only.
func (b *Builder) WithCounter(c cache.Counter) *Builder {
	b.counter = c
	return b
}

// WithPasswordHasher overrides the hasher selected by Config.Password.
func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock injects the time source for tokens, counters, challenges and
// credential aging. Tests use it instead of sleeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user directory required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authcore")

	engine := &Engine{
		config:        cfg,
		logger:        logger,
		now:           now,
		users:         b.users,
		credentials:   b.credentials,
		confirmations: b.confirmations,
		notifier:      b.notifier,
		cookies:       cfg.Cookie.codecConfig(),
	}
	if engine.notifier == nil {
		engine.notifier = LogNotifier{Logger: logger}
	}

	// -------- TOKENS --------
	codec, err := jwt.NewCodec(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.codec = codec

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		hasher, err = newPasswordHasher(cfg.Password)
		if err != nil {
			return nil, err
		}
	}
	engine.hasher = hasher
	if cfg.Security.EqualizeUnknownIdentityTiming {
		engine.dummyHash, err = hasher.Hash(dummyPassword)
		if err != nil {
			return nil, err
		}
	}

	// -------- ATTEMPT TRACKING --------
	counter := b.counter
	if counter == nil {
		if b.redis != nil {
			counter = cache.NewRedisCounter(b.redis, cfg.Lockout.RedisPrefix, cfg.Lockout.Window)
		} else {
			mc := cache.NewMemoryCounter(cfg.Lockout.Window,
				cache.WithClock(now),
				cache.WithShards(cfg.Lockout.Shards),
				cache.WithJanitor(cfg.Lockout.Window),
			)
			engine.closers = append(engine.closers, mc.Store().Close)
			counter = mc
		}
	}
	engine.attempts = limiters.NewAttemptTracker(counter, limiters.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.MaxAttempts,
	})

	// -------- MFA --------
	engine.totp = totp.New(totp.Config{
		Issuer:    cfg.TOTP.Issuer,
		Skew:      cfg.TOTP.Skew,
		ImageSize: cfg.TOTP.ImageSize,
	}).WithClock(now)

	var totpCounter cache.Counter
	if b.redis != nil {
		totpCounter = cache.NewRedisCounter(b.redis, totpLimiterRedisPrefix, cfg.TOTP.VerifyCooldown)
		engine.challenges = stores.NewRedisChallengeStore(b.redis, cfg.TOTP.RedisPrefix, now)
		engine.resetGrants = stores.NewRedisChallengeStore(b.redis, resetGrantRedisPrefix, now)
	} else {
		mc := cache.NewMemoryCounter(cfg.TOTP.VerifyCooldown, cache.WithClock(now))
		ms := stores.NewMemoryChallengeStore(cfg.TOTP.MFAChallengeTTL, now)
		rg := stores.NewMemoryChallengeStore(cfg.Account.ResetGrantTTL, now)
		engine.closers = append(engine.closers, mc.Store().Close, ms.Close, rg.Close)
		totpCounter = mc
		engine.challenges = ms
		engine.resetGrants = rg
	}
	engine.totpLimiter = limiters.NewTOTPLimiter(totpCounter, limiters.TOTPLimiterConfig{
		MaxAttempts: cfg.TOTP.VerifyMaxAttempts,
	})
	if cfg.TOTP.EnforceReplayProtection {
		// A step can verify for (2*skew+1) periods; remember it that long.
		window := time.Duration(2*cfg.TOTP.Skew+1) * totp.Period * time.Second
		engine.acceptedSteps = cache.New[int64](window, cache.WithClock(now), cache.WithJanitor(window))
		engine.closers = append(engine.closers, engine.acceptedSteps.Close)
	}

	// -------- AMBIENT --------
	sink := b.auditSink
	if sink == nil {
		sink = NewSlogSink(logger)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.flows = flows.Deps{
		Login:   engine.loginDeps(),
		Session: engine.sessionDeps(),
	}

	b.built = true

	return engine, nil
}

// newPasswordHasher hashes with the configured scheme and still verifies
// hashes of the other one.
func newPasswordHasher(cfg PasswordConfig) (*password.Dispatcher, error) {
	bc, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	if cfg.Argon2 == (password.Argon2Config{}) {
		cfg.Argon2 = password.DefaultArgon2Config()
	}
	argon, err := password.NewArgon2id(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(cfg.Scheme, "argon2id") {
		return password.NewDispatcher(argon, bc), nil
	}
	return password.NewDispatcher(bc, argon), nil
}

package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names the algorithm used to sign session tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret. It is the default.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

// Kind distinguishes short-lived access tokens from long-lived refresh tokens.
type Kind uint8

const (
	// Access tokens authenticate individual requests.
	Access Kind = iota + 1
	// Refresh tokens mint new access tokens.
	Refresh
)

func (k Kind) String() string {
	switch k {
	case Access:
		return "access"
	case Refresh:
		return "refresh"
	default:
		return "unknown"
	}
}

func kindFromString(s string) Kind {
	switch s {
	case "access":
		return Access
	case "refresh":
		return Refresh
	default:
		return 0
	}
}

var (
	// ErrInvalidToken covers every way a token can fail validation: bad
	// encoding, bad signature, wrong algorithm, wrong kind, or expiry.
	ErrInvalidToken = errors.New("invalid token")
)

// Config configures a Codec.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	KeyID         string

	// Now overrides the clock used for issued-at and expiry checks.
	Now func() time.Time
}

// Claims is the claim layout of every session token.
type Claims struct {
	Authorities []string `json:"authorities"`
	TokenKind   string   `json:"knd"`
	jwt.RegisteredClaims
}

// Kind returns the token kind recorded in the claims.
func (c *Claims) Kind() Kind {
	return kindFromString(c.TokenKind)
}

// Codec mints and validates signed session tokens.
type Codec struct {
	config Config
	now    func() time.Time
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{config: cfg, now: now}, nil
}

// TTL returns the lifetime of tokens of kind k.
func (c *Codec) TTL(k Kind) time.Duration {
	if k == Refresh {
		return c.config.RefreshTTL
	}
	return c.config.AccessTTL
}

// Mint signs a token of kind k for subject. The claim layout depends only on
// the inputs and the configured TTL and issuer.
func (c *Codec) Mint(k Kind, subject string, authorities []string, issuedAt time.Time) (string, error) {
	if k != Access && k != Refresh {
		return "", fmt.Errorf("unsupported token kind %d", k)
	}
	if subject == "" {
		return "", errors.New("token subject required")
	}

	auth := make([]string, len(authorities))
	copy(auth, authorities)

	claims := Claims{
		Authorities: auth,
		TokenKind:   k.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.TTL(k))),
		},
	}

	token := jwt.NewWithClaims(c.method(), claims)
	if c.config.KeyID != "" {
		token.Header["kid"] = c.config.KeyID
	}

	signKey, err := c.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Validate checks signature and expiry and returns the claims. Every failure
// is reported as ErrInvalidToken.
func (c *Codec) Validate(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if c.config.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != c.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return c.verifyKey()
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.Kind() == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateKind is Validate plus a check that the token is of kind k.
func (c *Codec) ValidateKind(k Kind, tokenStr string) (*Claims, error) {
	claims, err := c.Validate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind() != k {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *Codec) method() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (c *Codec) signKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(c.config.PrivateKey)
	default:
		return c.config.PrivateKey, nil
	}
}

func (c *Codec) verifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(c.config.PublicKey)
	default:
		return c.config.PrivateKey, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

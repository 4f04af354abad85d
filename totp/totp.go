// Package totp generates and verifies RFC 6238 one-time codes for the MFA
// login step.
//
// Algorithm, digit count and period are fixed (SHA1, 6 digits, 30 seconds) so
// every enrolled authenticator app sees the same parameters.
package totp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the time step in seconds.
	Period = 30
	// Digits is the code length.
	Digits = otp.DigitsSix
	// Algorithm is the HMAC hash.
	Algorithm = otp.AlgorithmSHA1

	secretSize       = 20
	defaultImageSize = 200
	dataURIPrefix    = "data:image/png;base64,"
)

var (
	// ErrInvalidSecret is returned when a secret is empty or not base32.
	ErrInvalidSecret = errors.New("invalid totp secret")
)

// Config holds issuer-level settings.
type Config struct {
	Issuer    string
	Skew      uint
	ImageSize int
}

// Engine issues secrets and checks codes.
type Engine struct {
	config Config
	now    func() time.Time
}

// Enrollment is what a user needs to add the account to an authenticator app.
type Enrollment struct {
	Secret   string
	URI      string
	ImageURI string
}

// New creates an Engine. A zero ImageSize defaults to 200 pixels.
func New(cfg Config) *Engine {
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = defaultImageSize
	}
	return &Engine{config: cfg, now: time.Now}
}

// WithClock returns a copy of e that reads time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	out := *e
	if now != nil {
		out.now = now
	}
	return &out
}

func (e *Engine) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      e.config.Skew,
		Digits:    Digits,
		Algorithm: Algorithm,
	}
}

// GenerateSecret returns a fresh base32 secret (no padding) for label.
func (e *Engine) GenerateSecret(label string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: label,
		Period:      Period,
		SecretSize:  secretSize,
		Digits:      Digits,
		Algorithm:   Algorithm,
	})
	if err != nil {
		return nil, err
	}

	image, err := e.imageURI(key)
	if err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:   key.Secret(),
		URI:      key.URL(),
		ImageURI: image,
	}, nil
}

// EnrollmentPayload renders the scannable image for an existing secret.
func (e *Engine) EnrollmentPayload(label, secret string) (string, error) {
	secret = normalizeSecret(secret)
	if secret == "" {
		return "", ErrInvalidSecret
	}
	key, err := otp.NewKeyFromURL(e.ProvisionURI(label, secret))
	if err != nil {
		return "", err
	}
	return e.imageURI(key)
}

// ProvisionURI builds the otpauth:// URI for secret.
func (e *Engine) ProvisionURI(label, secret string) string {
	issuer := e.config.Issuer
	path := url.PathEscape(issuer + ":" + label)

	v := url.Values{}
	v.Set("secret", normalizeSecret(secret))
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(Period))
	v.Set("digits", strconv.Itoa(Digits.Length()))
	v.Set("algorithm", Algorithm.String())

	return "otpauth://totp/" + path + "?" + v.Encode()
}

func (e *Engine) imageURI(key *otp.Key) (string, error) {
	img, err := key.Image(e.config.ImageSize, e.config.ImageSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify reports whether code is valid for secret at the current time. It
// never returns an error; malformed input is simply not valid.
func (e *Engine) Verify(secret, code string) bool {
	ok, _ := e.VerifyAt(secret, code, e.now())
	return ok
}

// VerifyAt checks code at t and returns the matched time step, which callers
// use for replay tracking.
func (e *Engine) VerifyAt(secret, code string, t time.Time) (bool, int64) {
	secret = normalizeSecret(secret)
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != Digits.Length() {
		return false, 0
	}

	base := t.Unix() / Period
	skew := int64(e.config.Skew)
	for step := -skew; step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		at := time.Unix(counter*Period, 0).UTC()
		ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
			Period:    Period,
			Digits:    Digits,
			Algorithm: Algorithm,
		})
		if err != nil {
			return false, 0
		}
		if ok {
			return true, counter
		}
	}
	return false, 0
}

// Code returns the code for secret at t.
func (e *Engine) Code(secret string, t time.Time) (string, error) {
	secret = normalizeSecret(secret)
	if secret == "" {
		return "", ErrInvalidSecret
	}
	return totp.GenerateCodeCustom(secret, t, e.validateOpts())
}

func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.TrimSpace(secret))
}

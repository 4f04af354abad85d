package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonMinMemoryKB    uint32 = 8 * 1024
	argonMinTime        uint32 = 1
	argonMinParallelism uint8  = 1
	argonMinSaltLength  uint32 = 16
	argonMinKeyLength   uint32 = 16
	argonID                    = "argon2id"
	argonPrefix                = "$" + argonID + "$"
)

var errMalformedArgon = errors.New("malformed argon2id hash")

// Argon2Config holds argon2id cost parameters.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxPasswordBytes bounds input length. Zero selects DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

// DefaultArgon2Config is a reasonable interactive-login profile.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2id hashes to PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
type Argon2id struct {
	config Argon2Config
}

type argonHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2id validates cfg against minimum costs.
func NewArgon2id(cfg Argon2Config) (*Argon2id, error) {
	switch {
	case cfg.Memory < argonMinMemoryKB:
		return nil, fmt.Errorf("argon2 memory must be >= %d KB", argonMinMemoryKB)
	case cfg.Time < argonMinTime:
		return nil, errors.New("argon2 time must be >= 1")
	case cfg.Parallelism < argonMinParallelism:
		return nil, errors.New("argon2 parallelism must be >= 1")
	case cfg.SaltLength < argonMinSaltLength:
		return nil, fmt.Errorf("argon2 salt length must be >= %d", argonMinSaltLength)
	case cfg.KeyLength < argonMinKeyLength:
		return nil, fmt.Errorf("argon2 key length must be >= %d", argonMinKeyLength)
	case cfg.MaxPasswordBytes < 0:
		return nil, errors.New("argon2 max password bytes must be >= 0")
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2id{config: cfg}, nil
}

// Hash encodes password with a fresh random salt. Input bytes are used as
// given, with no Unicode normalization.
func (a *Argon2id) Hash(password string) (string, error) {
	if err := checkLength(password, a.config.MaxPasswordBytes); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argonPrefix,
		argon2.Version,
		a.config.Memory, a.config.Time, a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters embedded in encoded.
func (a *Argon2id) Verify(password, encoded string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	h, err := decodeArgon(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.parallelism, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

// Recognizes reports whether encoded is an argon2id PHC string.
func (a *Argon2id) Recognizes(encoded string) bool {
	return strings.HasPrefix(encoded, argonPrefix)
}

// NeedsUpgrade is true when any stored cost is below the configured one or the
// key length differs.
func (a *Argon2id) NeedsUpgrade(encoded string) (bool, error) {
	h, err := decodeArgon(encoded)
	if err != nil {
		return false, err
	}
	return a.config.Memory > h.memory ||
		a.config.Time > h.time ||
		a.config.Parallelism > h.parallelism ||
		int(a.config.KeyLength) != len(h.key), nil
}

func decodeArgon(encoded string) (*argonHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argonID {
		return nil, errMalformedArgon
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, errMalformedArgon
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	h := &argonHash{}
	if err := h.decodeParams(parts[3]); err != nil {
		return nil, err
	}

	if h.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(h.salt) < int(argonMinSaltLength) {
		return nil, errMalformedArgon
	}
	if h.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(h.key) == 0 {
		return nil, errMalformedArgon
	}
	return h, nil
}

func (h *argonHash) decodeParams(s string) error {
	var seen [3]bool
	pairs := strings.Split(s, ",")
	if len(pairs) != 3 {
		return errMalformedArgon
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return errMalformedArgon
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(argonMinMemoryKB) {
				return errMalformedArgon
			}
			h.memory, seen[0] = uint32(v), true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(argonMinTime) {
				return errMalformedArgon
			}
			h.time, seen[1] = uint32(v), true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(argonMinParallelism) {
				return errMalformedArgon
			}
			h.parallelism, seen[2] = uint8(v), true
		default:
			return errMalformedArgon
		}
	}
	if !seen[0] || !seen[1] || !seen[2] {
		return errMalformedArgon
	}
	return nil
}

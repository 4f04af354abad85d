package password

import (
	"errors"
	"strings"
)

const (
	// MinPasswordBytes is the shortest password any hasher accepts.
	MinPasswordBytes = 8
	// DefaultMaxPasswordBytes caps input so hashing cost stays bounded.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrPasswordTooShort is returned by Hash for passwords under MinPasswordBytes.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned when input exceeds the hasher's limit.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrUnsupportedHash is returned when no hasher recognizes an encoded hash.
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

// Hasher turns plaintext into an encoded hash and checks plaintext against one.
// Verify returns (false, nil) for a well-formed hash that does not match.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Scheme is a Hasher that can recognize its own encoding.
type Scheme interface {
	Hasher
	Recognizes(encoded string) bool
}

// Upgrader reports whether a hash was produced with weaker parameters than the
// hasher currently uses.
type Upgrader interface {
	NeedsUpgrade(encoded string) (bool, error)
}

// Dispatcher hashes with a primary scheme and verifies with whichever scheme
// produced the stored hash. It lets a deployment move from bcrypt to argon2id
// (or back) without invalidating existing credentials.
type Dispatcher struct {
	primary Scheme
	schemes []Scheme
}

// NewDispatcher returns a Dispatcher hashing with primary. Legacy schemes are
// only used for verification.
func NewDispatcher(primary Scheme, legacy ...Scheme) *Dispatcher {
	schemes := make([]Scheme, 0, 1+len(legacy))
	schemes = append(schemes, primary)
	for _, s := range legacy {
		if s != nil {
			schemes = append(schemes, s)
		}
	}
	return &Dispatcher{primary: primary, schemes: schemes}
}

// Hash encodes with the primary scheme.
func (d *Dispatcher) Hash(password string) (string, error) {
	return d.primary.Hash(password)
}

// Verify routes to the scheme recognizing encoded.
func (d *Dispatcher) Verify(password, encoded string) (bool, error) {
	for _, s := range d.schemes {
		if s.Recognizes(encoded) {
			return s.Verify(password, encoded)
		}
	}
	return false, ErrUnsupportedHash
}

// NeedsUpgrade is true when encoded was produced by a legacy scheme, or by the
// primary scheme with weaker parameters.
func (d *Dispatcher) NeedsUpgrade(encoded string) (bool, error) {
	if !d.primary.Recognizes(encoded) {
		for _, s := range d.schemes[1:] {
			if s.Recognizes(encoded) {
				return true, nil
			}
		}
		return false, ErrUnsupportedHash
	}
	if u, ok := d.primary.(Upgrader); ok {
		return u.NeedsUpgrade(encoded)
	}
	return false, nil
}

func checkLength(password string, max int) error {
	if len(password) < MinPasswordBytes {
		return ErrPasswordTooShort
	}
	if len(password) > max {
		return ErrPasswordTooLong
	}
	return nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrIdentityNotFound is returned by a UserDirectory for an unknown email
	// or user id.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrCredentialNotFound is returned by a CredentialStore without a
	// credential for the user.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrConfirmationNotFound is returned by a ConfirmationStore for an
	// unknown key or user.
	ErrConfirmationNotFound = errors.New("confirmation not found")
)

// Identity is an account as the user directory stores it. The engine reads
// it and writes back flag and attempt changes; it never deletes one.
type Identity struct {
	ID            int64
	UserID        string
	Email         string
	FirstName     string
	LastName      string
	Role          string
	Authorities   []string
	Enabled       bool
	NonExpired    bool
	NonLocked     bool
	MFAEnabled    bool
	MFASecret     string
	MFAImageURI   string
	LoginAttempts int
	LastLogin     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Name is the display name used in notifications.
func (i *Identity) Name() string {
	switch {
	case i.FirstName != "" && i.LastName != "":
		return i.FirstName + " " + i.LastName
	case i.FirstName != "":
		return i.FirstName
	default:
		return i.Email
	}
}

// Credential is a password hash owned by one identity. It refers to the
// identity by UserID only.
type Credential struct {
	UserID    string
	Hash      string
	UpdatedAt time.Time
}

// Confirmation is a one-time key sent by email for account verification or
// password reset. One key exists per user at a time.
type Confirmation struct {
	Key       string
	UserID    string
	CreatedAt time.Time
}

// Principal is the authenticated caller attached to a request context. It
// lives for one request and is never persisted.
type Principal struct {
	UserID      string
	Authorities []string
	MFAPending  bool
}

// HasAuthority reports whether the principal carries name.
func (p *Principal) HasAuthority(name string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == name {
			return true
		}
	}
	return false
}

// LoginResult is returned by Engine.Login and Engine.ConfirmLoginMFA. When
// MFARequired is set only ChallengeID is filled and no tokens exist yet.
type LoginResult struct {
	UserID       string
	Authorities  []string
	AccessToken  string
	RefreshToken string

	MFARequired bool
	ChallengeID string
}

// MFASetup is returned by Engine.SetupMFA.
type MFASetup struct {
	Secret   string
	URI      string
	ImageURI string
}

// RegisterRequest is the input for Engine.Register.
type RegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// ProfileUpdate is the input for Engine.UpdateProfile.
type ProfileUpdate struct {
	FirstName string
	LastName  string
}

// AccountFlag names an account status flag an administrator can set.
type AccountFlag uint8

const (
	FlagEnabled AccountFlag = iota + 1
	FlagAccountExpired
	FlagLocked
	FlagCredentialsExpired
)

func (f AccountFlag) String() string {
	switch f {
	case FlagEnabled:
		return "enabled"
	case FlagAccountExpired:
		return "account_expired"
	case FlagLocked:
		return "locked"
	case FlagCredentialsExpired:
		return "credentials_expired"
	default:
		return "unknown"
	}
}

// UserDirectory stores identities. Email lookups are case-insensitive.
// Missing records are reported as ErrIdentityNotFound.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByUserID(ctx context.Context, userID string) (*Identity, error)
	// Save inserts or replaces the identity keyed by UserID. Inserting an
	// email that is already taken returns ErrAccountExists.
	Save(ctx context.Context, identity *Identity) error
}

// IdentityUpdater is an optional UserDirectory extension that applies mutate
// to one identity atomically. The engine uses it for every write-back when the
// directory provides it.
type IdentityUpdater interface {
	Update(ctx context.Context, userID string, mutate func(*Identity)) (*Identity, error)
}

// CredentialStore stores one password credential per user.
type CredentialStore interface {
	FindByUserID(ctx context.Context, userID string) (*Credential, error)
	Save(ctx context.Context, credential *Credential) error
}

// ConfirmationStore stores confirmation keys.
type ConfirmationStore interface {
	Save(ctx context.Context, c *Confirmation) error
	FindByKey(ctx context.Context, key string) (*Confirmation, error)
	FindByUserID(ctx context.Context, userID string) (*Confirmation, error)
	Delete(ctx context.Context, key string) error
}

// Notifier delivers confirmation keys. Message content is the notifier's
// concern.
type Notifier interface {
	SendVerification(ctx context.Context, name, email, key string) error
	SendPasswordReset(ctx context.Context, name, email, key string) error
}

// LogNotifier writes notifications to a logger instead of sending mail. It
// logs the key, so use it only in development.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) SendVerification(ctx context.Context, name, email, key string) error {
	n.logger().InfoContext(ctx, "verification email", "name", name, "email", email, "key", key)
	return nil
}

func (n LogNotifier) SendPasswordReset(ctx context.Context, name, email, key string) error {
	n.logger().InfoContext(ctx, "password reset email", "name", name, "email", email, "key", key)
	return nil
}

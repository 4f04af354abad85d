package gormstore

import (
	"strings"
	"time"

	"github.com/securestorage/authcore"
)

// Timestamps come from the engine clock; gorm must not stamp them.
type userRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	UserID        string    `gorm:"type:varchar(40);uniqueIndex:ux_users_user_id;not null"`
	Email         string    `gorm:"type:varchar(255);uniqueIndex:ux_users_email;not null"`
	FirstName     string    `gorm:"type:varchar(100)"`
	LastName      string    `gorm:"type:varchar(100)"`
	Role          string    `gorm:"type:varchar(40);not null"`
	Authorities   string    `gorm:"type:text;not null"`
	Enabled       bool      `gorm:"not null;default:false"`
	NonExpired    bool      `gorm:"column:account_non_expired;not null;default:true"`
	NonLocked     bool      `gorm:"column:account_non_locked;not null;default:true"`
	MFA           bool      `gorm:"column:mfa;not null;default:false"`
	MFASecret     string    `gorm:"column:qr_code_secret;type:varchar(255)"`
	MFAImageURI   string    `gorm:"column:qr_code_image_uri;type:text"`
	LoginAttempts int       `gorm:"not null;default:0"`
	LastLogin     time.Time `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (userRow) TableName() string { return "users" }

type credentialRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"type:varchar(40);uniqueIndex:ux_credentials_user_id;not null"`
	Password  string    `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (credentialRow) TableName() string { return "credentials" }

type confirmationRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Key       string    `gorm:"column:confirmation_key;type:varchar(64);uniqueIndex:ux_confirmations_key;not null"`
	UserID    string    `gorm:"type:varchar(40);uniqueIndex:ux_confirmations_user_id;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (confirmationRow) TableName() string { return "confirmations" }

func toUserRow(i *authcore.Identity) userRow {
	return userRow{
		ID:            i.ID,
		UserID:        i.UserID,
		Email:         strings.ToLower(i.Email),
		FirstName:     i.FirstName,
		LastName:      i.LastName,
		Role:          i.Role,
		Authorities:   strings.Join(i.Authorities, ","),
		Enabled:       i.Enabled,
		NonExpired:    i.NonExpired,
		NonLocked:     i.NonLocked,
		MFA:           i.MFAEnabled,
		MFASecret:     i.MFASecret,
		MFAImageURI:   i.MFAImageURI,
		LoginAttempts: i.LoginAttempts,
		LastLogin:     i.LastLogin,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}

func (r userRow) identity() *authcore.Identity {
	var authorities []string
	if r.Authorities != "" {
		authorities = strings.Split(r.Authorities, ",")
	}
	return &authcore.Identity{
		ID:            r.ID,
		UserID:        r.UserID,
		Email:         r.Email,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Role:          r.Role,
		Authorities:   authorities,
		Enabled:       r.Enabled,
		NonExpired:    r.NonExpired,
		NonLocked:     r.NonLocked,
		MFAEnabled:    r.MFA,
		MFASecret:     r.MFASecret,
		MFAImageURI:   r.MFAImageURI,
		LoginAttempts: r.LoginAttempts,
		LastLogin:     r.LastLogin,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

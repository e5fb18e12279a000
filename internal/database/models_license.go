package database

import (
	"time"
)

type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "ACTIVE"
	LicenseExpired LicenseStatus = "EXPIRED"
	LicenseRevoked LicenseStatus = "REVOKED"
)

// License is one license key and its lifecycle state.
// Absolute expiry is CreatedAt + ExpiryDays and is never stored.
type License struct {
	ID              string        `json:"id" db:"id"`
	Key             string        `json:"key" db:"key"`
	Status          LicenseStatus `json:"status" db:"status"`
	Edition         string        `json:"edition" db:"edition"`
	BoundHardwareID *string       `json:"bound_hardware_id" db:"bound_hardware_id"`
	ExpiryDays      int           `json:"expiry_days" db:"expiry_days"`
	ServerRevision  int64         `json:"server_revision" db:"server_revision"`
	MaxDevices      int           `json:"max_devices" db:"max_devices"`
	OwnerEmail      string        `json:"owner_email" db:"owner_email"`
	Notes           string        `json:"notes" db:"notes"`
	RevokedReason   string        `json:"revoked_reason,omitempty" db:"revoked_reason"`
	RowVersion      int64         `json:"-" db:"row_version"`
	LastSeenAt      *time.Time    `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// HardwareID returns the bound hardware id or "" when unbound.
func (l *License) HardwareID() string {
	if l.BoundHardwareID == nil {
		return ""
	}
	return *l.BoundHardwareID
}

// ExpiresAt is the absolute expiry instant.
func (l *License) ExpiresAt() time.Time {
	return l.CreatedAt.Add(time.Duration(l.ExpiryDays) * 24 * time.Hour)
}

// LicenseDevice is one hardware fingerprint registered under a license.
type LicenseDevice struct {
	ID           string            `json:"id" db:"id"`
	LicenseID    string            `json:"license_id" db:"license_id"`
	HardwareHash string            `json:"hardware_hash" db:"hardware_hash"`
	MachineName  string            `json:"machine_name" db:"machine_name"`
	OS           string            `json:"os" db:"os"`
	Metadata     map[string]string `json:"metadata" db:"metadata"`
	IsActive     bool              `json:"is_active" db:"is_active"`
	FirstSeenAt  time.Time         `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt   time.Time         `json:"last_seen_at" db:"last_seen_at"`
}

// LicenseUsageLog is one append-only audit entry.
type LicenseUsageLog struct {
	ID            string    `json:"id" db:"id"`
	LicenseKey    string    `json:"license_key" db:"license_key"`
	Action        string    `json:"action" db:"action"`
	OldEdition    string    `json:"old_edition,omitempty" db:"old_edition"`
	NewEdition    string    `json:"new_edition,omitempty" db:"new_edition"`
	OldExpiryDays *int      `json:"old_expiry_days,omitempty" db:"old_expiry_days"`
	NewExpiryDays *int      `json:"new_expiry_days,omitempty" db:"new_expiry_days"`
	IP            string    `json:"ip" db:"ip"`
	UserAgent     string    `json:"user_agent" db:"user_agent"`
	Message       string    `json:"message,omitempty" db:"message"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// LicenseFilter narrows license listings.
type LicenseFilter struct {
	Status     string
	Edition    string
	OwnerEmail string
	Search     string
	Limit      int
	Offset     int
}

// LicenseStats summarises the license table for the admin dashboard.
type LicenseStats struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	ByEdition map[string]int `json:"by_edition"`
	Bound     int            `json:"bound"`
}

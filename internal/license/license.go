// Package license runs the license lifecycle: activation with hardware
// binding, renewal, upgrade, revocation, sync, the offline code exchange
// and RSA-signed activation tokens.
package license

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
	"time"

	"erasure-cloud/internal/database"
)

// Status is the outcome of a lifecycle call. Soft failures are statuses,
// not errors.
type Status string

const (
	StatusOK             Status = "OK"
	StatusInvalidKey     Status = "INVALID_KEY"
	StatusHWMismatch     Status = "HW_MISMATCH"
	StatusRevoked        Status = "REVOKED"
	StatusExpired        Status = "LICENSE_EXPIRED"
	StatusInvalidEdition Status = "INVALID_EDITION"
	StatusNoChange       Status = "NO_CHANGE"
	StatusUpdate         Status = "UPDATE"
	StatusDeviceLimit    Status = "DEVICE_LIMIT"
)

// Edition is the feature tier of a license.
type Edition string

const (
	EditionBasic      Edition = "BASIC"
	EditionPro        Edition = "PRO"
	EditionEnterprise Edition = "ENTERPRISE"
)

// ParseEdition accepts edition names case-insensitively.
func ParseEdition(s string) (Edition, bool) {
	switch e := Edition(strings.ToUpper(strings.TrimSpace(s))); e {
	case EditionBasic, EditionPro, EditionEnterprise:
		return e, true
	}
	return "", false
}

// Usage log actions.
const (
	ActionCreate            = "CREATE"
	ActionActivateFirstTime = "ACTIVATE_FIRST_TIME"
	ActionActivateNewDevice = "ACTIVATE_NEW_DEVICE"
	ActionActivateMismatch  = "ACTIVATE_FAILED_HWID_MISMATCH"
	ActionActivateLimit     = "ACTIVATE_FAILED_DEVICE_LIMIT"
	ActionActivateRevoked   = "ACTIVATE_FAILED_REVOKED"
	ActionActivateExpired   = "ACTIVATE_FAILED_EXPIRED"
	ActionExpire            = "EXPIRE"
	ActionRenew             = "RENEW"
	ActionRenewRejected     = "RENEW_REJECTED_REVOKED"
	ActionUpgrade           = "UPGRADE"
	ActionUpgradeRejected   = "UPGRADE_REJECTED_REVOKED"
	ActionSync              = "SYNC"
	ActionSyncMismatch      = "SYNC_FAILED_HWID_MISMATCH"
	ActionRevoke            = "REVOKE"
	ActionDelete            = "DELETE"
	ActionResetBinding      = "RESET_BINDING"
	ActionDeactivateDevice  = "DEACTIVATE_DEVICE"
	ActionOfflineActivate   = "OFFLINE_ACTIVATE"
)

// Result is what every lifecycle call returns. Edition is nil when the
// call did not reveal license details, as on HW_MISMATCH.
type Result struct {
	Status         Status                 `json:"status"`
	Message        string                 `json:"message,omitempty"`
	Key            string                 `json:"key"`
	Edition        *Edition               `json:"edition"`
	LicenseStatus  database.LicenseStatus `json:"license_status,omitempty"`
	ExpiryDays     int                    `json:"expiry_days,omitempty"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
	RemainingDays  *int                   `json:"remaining_days,omitempty"`
	ServerRevision int64                  `json:"server_revision,omitempty"`
	MaxDevices     int                    `json:"max_devices,omitempty"`
	Token          string                 `json:"token,omitempty"`
	// Changed is true when the call persisted a revision bump.
	Changed bool `json:"changed"`
}

func softResult(status Status, key, msg string) *Result {
	return &Result{Status: status, Key: key, Message: msg}
}

func snapshotResult(status Status, l *database.License, now time.Time) *Result {
	edition := Edition(l.Edition)
	expires := l.ExpiresAt()
	remaining := RemainingDays(l, now)
	return &Result{
		Status:         status,
		Key:            l.Key,
		Edition:        &edition,
		LicenseStatus:  l.Status,
		ExpiryDays:     l.ExpiryDays,
		ExpiresAt:      &expires,
		RemainingDays:  &remaining,
		ServerRevision: l.ServerRevision,
		MaxDevices:     l.MaxDevices,
	}
}

// RemainingDays is expiryDays minus whole days elapsed since creation,
// never below zero.
func RemainingDays(l *database.License, now time.Time) int {
	elapsed := int(math.Floor(now.Sub(l.CreatedAt).Hours() / 24))
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := l.ExpiryDays - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether now is at or past the license expiry.
func IsExpired(l *database.License, now time.Time) bool {
	return !now.Before(l.ExpiresAt())
}

// View is a license with its computed fields, for admin listings.
type View struct {
	database.License
	RemainingDays int       `json:"remaining_days"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func newView(l *database.License, now time.Time) View {
	return View{License: *l, RemainingDays: RemainingDays(l, now), ExpiresAt: l.ExpiresAt()}
}

// KeyPattern matches XXXX-XXXX-XXXX-XXXX keys.
var KeyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// keyAlphabet leaves out characters that are easy to misread.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NormalizeKey upper-cases and trims a key.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKey reports whether key is in XXXX-XXXX-XXXX-XXXX form after normalization.
func ValidKey(key string) bool {
	return KeyPattern.MatchString(NormalizeKey(key))
}

// GenerateKey returns a random key in XXXX-XXXX-XXXX-XXXX form.
func GenerateKey() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < 16; i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate license key: %w", err)
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

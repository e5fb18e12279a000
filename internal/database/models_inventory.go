package database

import (
	"time"
)

// Machine is an erasure workstation registered by an account.
type Machine struct {
	ID              string     `json:"id" db:"id"`
	OwnerEmail      string     `json:"owner_email" db:"owner_email"`
	SubaccountEmail string     `json:"subaccount_email,omitempty" db:"subaccount_email"`
	Hostname        string     `json:"hostname" db:"hostname"`
	SerialNumber    string     `json:"serial_number" db:"serial_number"`
	Manufacturer    string     `json:"manufacturer" db:"manufacturer"`
	Model           string     `json:"model" db:"model"`
	OSVersion       string     `json:"os_version" db:"os_version"`
	MACAddress      string     `json:"mac_address" db:"mac_address"`
	Status          string     `json:"status" db:"status"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Report is the audit record of one erasure run.
type Report struct {
	ID             string     `json:"id" db:"id"`
	OwnerEmail     string     `json:"owner_email" db:"owner_email"`
	MachineID      *string    `json:"machine_id,omitempty" db:"machine_id"`
	CreatedByEmail string     `json:"created_by" db:"created_by_email"`
	ErasureMethod  string     `json:"erasure_method" db:"erasure_method"`
	DiskSerial     string     `json:"disk_serial" db:"disk_serial"`
	DiskModel      string     `json:"disk_model" db:"disk_model"`
	DiskSizeBytes  int64      `json:"disk_size_bytes" db:"disk_size_bytes"`
	Status         string     `json:"status" db:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Notes          string     `json:"notes" db:"notes"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

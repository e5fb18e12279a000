package inventory

import (
	"time"
)

// Machine statuses.
const (
	MachineOnline  = "online"
	MachineOffline = "offline"
	MachineRetired = "retired"
)

// Report statuses.
const (
	ReportPending   = "pending"
	ReportRunning   = "running"
	ReportCompleted = "completed"
	ReportFailed    = "failed"
)

func validMachineStatus(s string) bool {
	switch s {
	case MachineOnline, MachineOffline, MachineRetired:
		return true
	}
	return false
}

func validReportStatus(s string) bool {
	switch s {
	case ReportPending, ReportRunning, ReportCompleted, ReportFailed:
		return true
	}
	return false
}

// MachineRequest registers a machine.
type MachineRequest struct {
	Hostname     string `json:"hostname" binding:"required"`
	SerialNumber string `json:"serial_number"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	OSVersion    string `json:"os_version"`
	MACAddress   string `json:"mac_address"`
	Status       string `json:"status"`
}

// MachinePatch changes the fields that are set.
type MachinePatch struct {
	Hostname     *string    `json:"hostname"`
	SerialNumber *string    `json:"serial_number"`
	Manufacturer *string    `json:"manufacturer"`
	Model        *string    `json:"model"`
	OSVersion    *string    `json:"os_version"`
	MACAddress   *string    `json:"mac_address"`
	Status       *string    `json:"status"`
	LastSeenAt   *time.Time `json:"last_seen_at"`
}

// ReportRequest records one erasure run.
type ReportRequest struct {
	MachineID     *string    `json:"machine_id"`
	ErasureMethod string     `json:"erasure_method" binding:"required"`
	DiskSerial    string     `json:"disk_serial"`
	DiskModel     string     `json:"disk_model"`
	DiskSizeBytes int64      `json:"disk_size_bytes" binding:"min=0"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	Notes         string     `json:"notes"`
}

// ReportPatch updates a report as the run progresses.
type ReportPatch struct {
	Status     *string    `json:"status"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Notes      *string    `json:"notes"`
}

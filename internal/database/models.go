package database

import (
	"time"
)

// AccountStatus is shared by accounts and subaccounts.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusInactive  AccountStatus = "inactive"
	StatusSuspended AccountStatus = "suspended"
	StatusPending   AccountStatus = "pending"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPending:
		return true
	}
	return false
}

// PrincipalKind distinguishes top-level accounts from delegated subaccounts.
type PrincipalKind string

const (
	KindAccount    PrincipalKind = "account"
	KindSubaccount PrincipalKind = "subaccount"
)

// Account is a top-level tenant identity. Quota counters are only
// authoritative in the main database.
type Account struct {
	ID                 string        `json:"id" db:"id"`
	Email              string        `json:"email" db:"email"`
	Name               string        `json:"name" db:"name"`
	PasswordHash       string        `json:"-" db:"password_hash"`
	RoleTag            string        `json:"role" db:"role_tag"`
	Department         string        `json:"department" db:"department"`
	Group              string        `json:"group" db:"user_group"`
	Phone              string        `json:"phone" db:"phone"`
	IsPrivateCloud     bool          `json:"is_private_cloud" db:"is_private_cloud"`
	Status             AccountStatus `json:"status" db:"status"`
	SubaccountLimit    int           `json:"subaccount_limit" db:"subaccount_limit"`
	SubaccountsCreated int           `json:"subaccounts_created" db:"subaccounts_created"`
	LicenseLimit       int           `json:"license_limit" db:"license_limit"`
	LicensesAllocated  int           `json:"licenses_allocated" db:"licenses_allocated"`
	RowVersion         int64         `json:"row_version" db:"row_version"`
	LastLoginAt        *time.Time    `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// Subaccount is a delegated identity owned by exactly one Account.
type Subaccount struct {
	ID                string        `json:"id" db:"id"`
	Email             string        `json:"email" db:"email"`
	ParentEmail       string        `json:"parent_email" db:"parent_email"`
	Name              string        `json:"name" db:"name"`
	PasswordHash      string        `json:"-" db:"password_hash"`
	RoleTag           string        `json:"role" db:"role_tag"`
	Department        string        `json:"department" db:"department"`
	Group             string        `json:"group" db:"user_group"`
	Phone             string        `json:"phone" db:"phone"`
	Status            AccountStatus `json:"status" db:"status"`
	LicenseAllocation int           `json:"license_allocation" db:"license_allocation"`
	RowVersion        int64         `json:"row_version" db:"row_version"`
	LastLoginAt       *time.Time    `json:"last_login_at,omitempty" db:"last_login_at"`
	LastActivityAt    *time.Time    `json:"last_activity_at,omitempty" db:"last_activity_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// Role carries a hierarchy level; lower numbers are more privileged.
type Role struct {
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description" db:"description"`
	HierarchyLevel int       `json:"hierarchy_level" db:"hierarchy_level"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type Permission struct {
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RoleAssignment is the audit-carrying join between a principal and a role.
type RoleAssignment struct {
	PrincipalEmail  string        `json:"email"`
	Kind            PrincipalKind `json:"kind"`
	RoleName        string        `json:"role"`
	AssignedAt      time.Time     `json:"assigned_at"`
	AssignedByEmail string        `json:"assigned_by"`
}

// ListFilter narrows list queries. Zero values mean "no filter".
type ListFilter struct {
	OwnerEmail string
	Status     string
	Search     string
	Limit      int
	Offset     int
}

// Normalize clamps pagination to sane bounds.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Dependents counts rows that block deletion of an account.
type Dependents struct {
	Subaccounts int `json:"subaccounts"`
	Machines    int `json:"machines"`
	Reports     int `json:"reports"`
}

// Any reports whether anything still depends on the account.
func (d Dependents) Any() bool {
	return d.Subaccounts > 0 || d.Machines > 0 || d.Reports > 0
}

// Page is one window of a filtered list.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPage wraps items returned for f. Nil items serialize as [].
func NewPage[T any](items []T, total int, f ListFilter) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}
}

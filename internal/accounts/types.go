package accounts

import (
	"erasure-cloud/internal/database"
)

// Error codes specific to account administration.
const (
	CodeDependentsExist          = "DEPENDENTS_EXIST"
	CodeTransferBlocked          = "TRANSFER_BLOCKED"
	CodePrivateCloudUnconfigured = "PRIVATE_CLOUD_UNCONFIGURED"
)

// CreateAccountRequest is an administrator creating an active account.
type CreateAccountRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	Name            string `json:"name" binding:"required"`
	Department      string `json:"department"`
	Group           string `json:"group"`
	Phone           string `json:"phone"`
	Role            string `json:"role"`
	SubaccountLimit int    `json:"subaccount_limit" binding:"min=0"`
	LicenseLimit    int    `json:"license_limit" binding:"min=0"`
}

// UpdateProfileRequest patches profile fields. RowVersion, when set, must
// match the stored row.
type UpdateProfileRequest struct {
	Name       *string `json:"name"`
	Department *string `json:"department"`
	Group      *string `json:"group"`
	Phone      *string `json:"phone"`
	RowVersion int64   `json:"row_version"`
}

// StatusRequest sets an account or subaccount status.
type StatusRequest struct {
	Status database.AccountStatus `json:"status" binding:"required"`
}

// LimitsRequest replaces an account's quotas.
type LimitsRequest struct {
	SubaccountLimit int   `json:"subaccount_limit" binding:"min=0"`
	LicenseLimit    int   `json:"license_limit" binding:"min=0"`
	RowVersion      int64 `json:"row_version" binding:"required"`
}

// LicenseAdjustRequest moves an account's allocated license counter.
type LicenseAdjustRequest struct {
	Delta      int   `json:"delta"`
	RowVersion int64 `json:"row_version" binding:"required"`
}

// SubaccountLicenseRequest sets the licenses a subaccount may use. The
// parent's counter moves by the difference.
type SubaccountLicenseRequest struct {
	Allocation int   `json:"allocation" binding:"min=0"`
	RowVersion int64 `json:"row_version" binding:"required"`
}

// CreateSubaccountRequest creates a delegated identity. ParentEmail is only
// honoured for callers holding subusers.manage_all.
type CreateSubaccountRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Department  string `json:"department"`
	Group       string `json:"group"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
	ParentEmail string `json:"parent_email"`
}

// DeleteResult reports what an account deletion moved.
type DeleteResult struct {
	Email       string              `json:"email"`
	TransferTo  string              `json:"transfer_to,omitempty"`
	Transferred database.Dependents `json:"transferred"`
}

// RoleRequest assigns or removes a role on a principal.
type RoleRequest struct {
	Email        string `json:"email" binding:"required,email"`
	IsSubaccount bool   `json:"is_subaccount"`
	Role         string `json:"role" binding:"required"`
}

// CreateRoleRequest defines a new role below the caller's level.
type CreateRoleRequest struct {
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	HierarchyLevel int    `json:"hierarchy_level" binding:"min=0"`
}

// RolePermissions is a role and the permissions it grants.
type RolePermissions struct {
	Role        *database.Role `json:"role"`
	Permissions []string       `json:"permissions"`
}

// PrivateCloudRequest enables a dedicated database for an account.
type PrivateCloudRequest struct {
	ConnectionString string `json:"connection_string" binding:"required"`
}

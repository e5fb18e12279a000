package auth

import (
	"time"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

// Principal is the authenticated caller carried by an access token.
type Principal struct {
	Email       string                 `json:"email"`
	Kind        database.PrincipalKind `json:"kind"`
	ParentEmail string                 `json:"parent_email,omitempty"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	Roles       []string               `json:"roles"`
}

// IsSubaccount reports whether the caller is a delegated subaccount.
func (p *Principal) IsSubaccount() bool {
	return p.Kind == database.KindSubaccount
}

// OwnerEmail is the account that owns the caller's data: the parent for a
// subaccount, the caller itself otherwise.
func (p *Principal) OwnerEmail() string {
	if p.IsSubaccount() && p.ParentEmail != "" {
		return p.ParentEmail
	}
	return p.Email
}

// RegisterRequest represents a self-registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required,min=2"`
	Phone    string `json:"phone"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required"`
	IsSubaccount bool   `json:"is_subaccount"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int64      `json:"expires_in"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Principal   *Principal `json:"principal"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// Profile is the caller's own record as returned by /me.
type Profile struct {
	Principal  *Principal           `json:"principal"`
	Account    *database.Account    `json:"account,omitempty"`
	Subaccount *database.Subaccount `json:"subaccount,omitempty"`
	Dedicated  bool                 `json:"dedicated_database"`
}

// Error codes specific to authentication.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeSourceIPMismatch   = "SOURCE_IP_MISMATCH"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeEmailExists        = "EMAIL_EXISTS"
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodeTenantUnavailable  = "TENANT_UNAVAILABLE"
)

// Common authentication errors
var (
	ErrInvalidCredentials = apperr.Unauthenticated("invalid email or password").WithCode(CodeInvalidCredentials)
	ErrInvalidToken       = apperr.Unauthenticated("invalid or expired token").WithCode(CodeInvalidToken)
	ErrTokenExpired       = apperr.Unauthenticated("token has expired").WithCode(CodeTokenExpired)
	ErrSourceIPMismatch   = apperr.Unauthenticated("token was issued to another address").WithCode(CodeSourceIPMismatch)
	ErrTenantUnavailable  = apperr.Unauthenticated("account database is unavailable").WithCode(CodeTenantUnavailable)
	ErrEmailExists        = apperr.Conflict("email already registered").WithCode(CodeEmailExists)
	ErrUnauthorized       = apperr.Unauthenticated("authentication required")
)

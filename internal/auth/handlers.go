package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/apperr"
)

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the public and authenticated auth endpoints on rg.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)

	protected := rg.Group("", Middleware(h.service))
	protected.GET("/me", h.Me)
	protected.POST("/change-password", h.ChangePassword)
	protected.GET("/permissions", h.Permissions)
}

func bindError(err error) error {
	return apperr.Validation("%s", err.Error())
}

// Register handles self-registration
// POST /api/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, bindError(err))
		return
	}

	account, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "registration successful, awaiting activation",
		"account": account,
	})
}

// Login handles account and subaccount login
// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, bindError(err))
		return
	}

	response, err := h.service.Login(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Me returns the caller's own record
// GET /api/auth/me
func (h *Handlers) Me(c *gin.Context) {
	rc := GetRequestContext(c)
	if rc == nil {
		abort(c, ErrUnauthorized)
		return
	}

	profile, err := h.service.Me(c.Request.Context(), rc.Principal, rc.Tenant)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// ChangePassword handles password change
// POST /api/auth/change-password
func (h *Handlers) ChangePassword(c *gin.Context) {
	rc := GetRequestContext(c)
	if rc == nil {
		abort(c, ErrUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, bindError(err))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), rc.Principal, rc.Tenant, req); err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "password changed successfully",
	})
}

// Permissions returns the caller's effective roles, permissions and tier
// GET /api/auth/permissions
func (h *Handlers) Permissions(c *gin.Context) {
	rc := GetRequestContext(c)
	if rc == nil {
		abort(c, ErrUnauthorized)
		return
	}

	grants, err := h.service.Grants(c.Request.Context(), rc.Principal, rc.Tenant)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, grants)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/accounts"
)

type permissionRequest struct {
	Permission string `json:"permission" binding:"required"`
}

// GET /api/roles
func (s *Server) handleListRoles(c *gin.Context) {
	roles, err := s.deps.Accounts.ListRoles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

// GET /api/permissions
func (s *Server) handleListPermissions(c *gin.Context) {
	perms, err := s.deps.Accounts.ListPermissions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

// POST /api/roles
func (s *Server) handleCreateRole(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.CreateRoleRequest
	if !bind(c, &req) {
		return
	}
	role, err := s.deps.Accounts.CreateRole(c.Request.Context(), rc, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// GET /api/roles/:name/permissions
func (s *Server) handleGetRolePermissions(c *gin.Context) {
	rp, err := s.deps.Accounts.RolePermissions(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rp)
}

// POST /api/roles/:name/permissions
func (s *Server) handleAddRolePermission(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req permissionRequest
	if !bind(c, &req) {
		return
	}
	if err := s.deps.Accounts.AddPermissionToRole(c.Request.Context(), rc, c.Param("name"), req.Permission); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": c.Param("name"), "permission": req.Permission, "granted": true})
}

// DELETE /api/roles/:name/permissions/:permission
func (s *Server) handleRemoveRolePermission(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	if err := s.deps.Accounts.RemovePermissionFromRole(c.Request.Context(), rc, c.Param("name"), c.Param("permission")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": c.Param("name"), "permission": c.Param("permission"), "granted": false})
}

// POST /api/assign-role
func (s *Server) handleAssignRole(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.RoleRequest
	if !bind(c, &req) {
		return
	}
	if err := s.deps.Accounts.AssignRole(c.Request.Context(), rc, req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": req.Email, "role": req.Role, "assigned": true})
}

// DELETE /api/assign-role
func (s *Server) handleRemoveRole(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.RoleRequest
	if !bind(c, &req) {
		return
	}
	if err := s.deps.Accounts.RemoveRole(c.Request.Context(), rc, req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": req.Email, "role": req.Role, "assigned": false})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/accounts"
)

// GET /api/accounts
func (s *Server) handleListAccounts(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	f, err := listFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := s.deps.Accounts.ListAccounts(c.Request.Context(), rc, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// POST /api/accounts
func (s *Server) handleCreateAccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.CreateAccountRequest
	if !bind(c, &req) {
		return
	}
	account, err := s.deps.Accounts.CreateAccount(c.Request.Context(), rc, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

// GET /api/accounts/:email
func (s *Server) handleGetAccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	account, err := s.deps.Accounts.GetAccount(c.Request.Context(), rc, c.Param("email"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// PATCH /api/accounts/:email
func (s *Server) handleUpdateAccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.UpdateProfileRequest
	if !bind(c, &req) {
		return
	}
	account, err := s.deps.Accounts.UpdateAccount(c.Request.Context(), rc, c.Param("email"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// PUT /api/accounts/:email/status
func (s *Server) handleSetAccountStatus(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.StatusRequest
	if !bind(c, &req) {
		return
	}
	if err := s.deps.Accounts.SetAccountStatus(c.Request.Context(), rc, c.Param("email"), req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": c.Param("email"), "status": req.Status})
}

// PUT /api/accounts/:email/limits
func (s *Server) handleSetAccountLimits(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.LimitsRequest
	if !bind(c, &req) {
		return
	}
	account, err := s.deps.Accounts.SetAccountLimits(c.Request.Context(), rc, c.Param("email"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// POST /api/accounts/:email/licenses
func (s *Server) handleAdjustLicenses(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.LicenseAdjustRequest
	if !bind(c, &req) {
		return
	}
	account, err := s.deps.Accounts.AdjustLicenses(c.Request.Context(), rc, c.Param("email"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// DELETE /api/accounts/:email?transfer_to=
func (s *Server) handleDeleteAccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	result, err := s.deps.Accounts.DeleteAccount(c.Request.Context(), rc, c.Param("email"), c.Query("transfer_to"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/accounts/:email/private-cloud
func (s *Server) handleEnablePrivateCloud(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.PrivateCloudRequest
	if !bind(c, &req) {
		return
	}
	account, err := s.deps.Accounts.EnablePrivateCloud(c.Request.Context(), rc, c.Param("email"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// DELETE /api/accounts/:email/private-cloud
func (s *Server) handleDisablePrivateCloud(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	account, err := s.deps.Accounts.DisablePrivateCloud(c.Request.Context(), rc, c.Param("email"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// GET /api/subaccounts
func (s *Server) handleListSubaccounts(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	f, err := listFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := s.deps.Accounts.ListSubaccounts(c.Request.Context(), rc, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// POST /api/subaccounts
func (s *Server) handleCreateSubaccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.CreateSubaccountRequest
	if !bind(c, &req) {
		return
	}
	sub, err := s.deps.Accounts.CreateSubaccount(c.Request.Context(), rc, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GET /api/subaccounts/:email
func (s *Server) handleGetSubaccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	sub, err := s.deps.Accounts.GetSubaccount(c.Request.Context(), rc, c.Param("email"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// PATCH /api/subaccounts/:email
func (s *Server) handleUpdateSubaccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.UpdateProfileRequest
	if !bind(c, &req) {
		return
	}
	sub, err := s.deps.Accounts.UpdateSubaccount(c.Request.Context(), rc, c.Param("email"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// PUT /api/subaccounts/:email/status
func (s *Server) handleSetSubaccountStatus(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.StatusRequest
	if !bind(c, &req) {
		return
	}
	if err := s.deps.Accounts.SetSubaccountStatus(c.Request.Context(), rc, c.Param("email"), req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": c.Param("email"), "status": req.Status})
}

// PUT /api/subaccounts/:email/licenses
func (s *Server) handleSetSubaccountLicenses(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req accounts.SubaccountLicenseRequest
	if !bind(c, &req) {
		return
	}
	sub, err := s.deps.Accounts.SetSubaccountLicenses(c.Request.Context(), rc, c.Param("email"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// DELETE /api/subaccounts/:email
func (s *Server) handleDeleteSubaccount(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	if err := s.deps.Accounts.DeleteSubaccount(c.Request.Context(), rc, c.Param("email")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subaccount deleted"})
}

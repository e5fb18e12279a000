package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/license"
	"erasure-cloud/internal/logging"
)

type renewRequest struct {
	Days int `json:"days"`
}

type upgradeRequest struct {
	Edition string `json:"edition" binding:"required"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type requestCodeRequest struct {
	Key        string            `json:"license_key" binding:"required"`
	HardwareID string            `json:"hardware_id" binding:"required"`
	Machine    map[string]string `json:"machine"`
}

type submitCodeRequest struct {
	RequestCode string `json:"request_code" binding:"required"`
}

type validateCodeRequest struct {
	ResponseCode string `json:"response_code" binding:"required"`
	HardwareID   string `json:"hardware_id" binding:"required"`
}

type verifyTokenRequest struct {
	Token    string               `json:"token" binding:"required"`
	Hardware license.HardwareInfo `json:"hardware"`
}

var errVerificationDisabled = apperr.External("license token verification is not configured", license.ErrSigningDisabled)

// verdict answers a token check. A failed check is an expected outcome,
// not an error.
func verdict(c *gin.Context, claims interface{}, err error) {
	if err != nil {
		reason := "INVALID"
		switch {
		case errors.Is(err, license.ErrTokenExpired):
			reason = "EXPIRED"
		case errors.Is(err, license.ErrFingerprintMismatch), errors.Is(err, license.ErrHardwareMismatch):
			reason = "HW_MISMATCH"
		case errors.Is(err, license.ErrInsufficientHardware):
			respondError(c, apperr.Validation("%s", err.Error()))
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "claims": claims})
}

// POST /api/license/activate
func (s *Server) handleActivate(c *gin.Context) {
	var req license.ActivateRequest
	if !bind(c, &req) {
		return
	}
	req.Meta = meta(c)
	res, err := s.deps.Licenses.Activate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/license/sync
func (s *Server) handleSync(c *gin.Context) {
	var req license.SyncRequest
	if !bind(c, &req) {
		return
	}
	req.Meta = meta(c)
	res, err := s.deps.Licenses.Sync(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/license/offline/request-code
func (s *Server) handleOfflineRequestCode(c *gin.Context) {
	var req requestCodeRequest
	if !bind(c, &req) {
		return
	}
	code, err := license.GenerateRequestCode(req.Key, req.HardwareID, req.Machine, time.Now())
	if err != nil {
		respondError(c, apperr.Validation("%s", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_code": code})
}

// POST /api/license/offline/submit
func (s *Server) handleOfflineSubmit(c *gin.Context) {
	var req submitCodeRequest
	if !bind(c, &req) {
		return
	}
	res, err := s.deps.Licenses.SubmitRequestCode(c.Request.Context(), req.RequestCode, meta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/license/offline/validate
func (s *Server) handleOfflineValidate(c *gin.Context) {
	var req validateCodeRequest
	if !bind(c, &req) {
		return
	}
	v := s.deps.Licenses.Verifier()
	if v == nil {
		respondError(c, errVerificationDisabled)
		return
	}
	claims, err := license.ValidateResponseCode(v, req.ResponseCode, req.HardwareID)
	verdict(c, claims, err)
}

// POST /api/license/verify-token
func (s *Server) handleVerifyToken(c *gin.Context) {
	var req verifyTokenRequest
	if !bind(c, &req) {
		return
	}
	v := s.deps.Licenses.Verifier()
	if v == nil {
		respondError(c, errVerificationDisabled)
		return
	}
	claims, err := v.Verify(strings.TrimSpace(req.Token), req.Hardware)
	verdict(c, claims, err)
}

// GET /api/licenses
func (s *Server) handleListLicenses(c *gin.Context) {
	f, err := licenseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	views, total, err := s.deps.Licenses.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, database.NewPage(views, total, database.ListFilter{Limit: f.Limit, Offset: f.Offset}))
}

// POST /api/licenses
func (s *Server) handleCreateLicense(c *gin.Context) {
	var req license.CreateRequest
	if !bind(c, &req) {
		return
	}
	v, err := s.deps.Licenses.Create(c.Request.Context(), req, meta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// GET /api/licenses/stats
func (s *Server) handleLicenseStats(c *gin.Context) {
	stats, err := s.deps.Licenses.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /api/licenses/:key
func (s *Server) handleGetLicense(c *gin.Context) {
	v, err := s.deps.Licenses.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// DELETE /api/licenses/:key
func (s *Server) handleDeleteLicense(c *gin.Context) {
	s.lifecycle(c, func() (*license.Result, error) {
		return s.deps.Licenses.Delete(c.Request.Context(), c.Param("key"), meta(c))
	})
}

// POST /api/licenses/:key/renew
func (s *Server) handleRenewLicense(c *gin.Context) {
	var req renewRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	s.lifecycle(c, func() (*license.Result, error) {
		return s.deps.Licenses.Renew(c.Request.Context(), c.Param("key"), req.Days, meta(c))
	})
}

// POST /api/licenses/:key/upgrade
func (s *Server) handleUpgradeLicense(c *gin.Context) {
	var req upgradeRequest
	if !bind(c, &req) {
		return
	}
	s.lifecycle(c, func() (*license.Result, error) {
		return s.deps.Licenses.Upgrade(c.Request.Context(), c.Param("key"), req.Edition, meta(c))
	})
}

// POST /api/licenses/:key/revoke
func (s *Server) handleRevokeLicense(c *gin.Context) {
	var req revokeRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	s.lifecycle(c, func() (*license.Result, error) {
		return s.deps.Licenses.Revoke(c.Request.Context(), c.Param("key"), req.Reason, meta(c))
	})
}

// POST /api/licenses/:key/reset-binding
func (s *Server) handleResetBinding(c *gin.Context) {
	s.lifecycle(c, func() (*license.Result, error) {
		return s.deps.Licenses.ResetBinding(c.Request.Context(), c.Param("key"), meta(c))
	})
}

// DELETE /api/licenses/:key/devices/:device
func (s *Server) handleDeactivateDevice(c *gin.Context) {
	s.lifecycle(c, func() (*license.Result, error) {
		return s.deps.Licenses.DeactivateDevice(c.Request.Context(), c.Param("key"), c.Param("device"), meta(c))
	})
}

// GET /api/licenses/:key/devices
func (s *Server) handleLicenseDevices(c *gin.Context) {
	devices, err := s.deps.Licenses.Devices(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	if devices == nil {
		devices = []database.LicenseDevice{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// GET /api/licenses/:key/logs?limit=
func (s *Server) handleLicenseLogs(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	logs, err := s.deps.Licenses.UsageLogs(c.Request.Context(), c.Param("key"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []database.LicenseUsageLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// lifecycle runs an admin transition. Soft outcomes come back as 200.
func (s *Server) lifecycle(c *gin.Context, run func() (*license.Result, error)) {
	res, err := run()
	if err != nil {
		respondError(c, err)
		return
	}
	logging.FromGin(c).Info().
		Str("key", res.Key).
		Str("status", string(res.Status)).
		Str("by", principalEmail(c)).
		Msg("License administered")
	c.JSON(http.StatusOK, res)
}

func principalEmail(c *gin.Context) string {
	if p := auth.GetPrincipal(c); p != nil {
		return p.Email
	}
	return ""
}

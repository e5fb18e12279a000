package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/monitor"
)

type systemStatus struct {
	Process   *monitor.Snapshot `json:"process,omitempty"`
	OpenPools int               `json:"open_pools"`
	Cache     gin.H             `json:"cache"`
}

// GET /api/system/status
func (s *Server) handleSystemStatus(c *gin.Context) {
	resp := systemStatus{Cache: gin.H{"status": s.cacheStatus()}}
	if s.deps.Monitor != nil {
		snap := s.deps.Monitor.Snapshot()
		resp.Process = &snap
	}
	if s.deps.Pools != nil {
		resp.OpenPools = s.deps.Pools.OpenPools()
	}
	if s.deps.Cache != nil {
		resp.Cache["stats"] = s.deps.Cache.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/export"
	"erasure-cloud/internal/inventory"
	"erasure-cloud/internal/logging"
)

// GET /api/machines
func (s *Server) handleListMachines(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	f, err := listFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := s.deps.Inventory.ListMachines(c.Request.Context(), rc, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// POST /api/machines
func (s *Server) handleCreateMachine(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req inventory.MachineRequest
	if !bind(c, &req) {
		return
	}
	m, err := s.deps.Inventory.CreateMachine(c.Request.Context(), rc, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// GET /api/machines/:id
func (s *Server) handleGetMachine(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	m, err := s.deps.Inventory.GetMachine(c.Request.Context(), rc, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// PATCH /api/machines/:id
func (s *Server) handleUpdateMachine(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var patch inventory.MachinePatch
	if !bind(c, &patch) {
		return
	}
	m, err := s.deps.Inventory.UpdateMachine(c.Request.Context(), rc, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// DELETE /api/machines/:id
func (s *Server) handleDeleteMachine(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	if err := s.deps.Inventory.DeleteMachine(c.Request.Context(), rc, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "machine deleted"})
}

// GET /api/reports
func (s *Server) handleListReports(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	f, err := listFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := s.deps.Inventory.ListReports(c.Request.Context(), rc, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// POST /api/reports
func (s *Server) handleCreateReport(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var req inventory.ReportRequest
	if !bind(c, &req) {
		return
	}
	r, err := s.deps.Inventory.CreateReport(c.Request.Context(), rc, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// GET /api/reports/:id
func (s *Server) handleGetReport(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	r, err := s.deps.Inventory.GetReport(c.Request.Context(), rc, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// PATCH /api/reports/:id
func (s *Server) handleUpdateReport(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var patch inventory.ReportPatch
	if !bind(c, &patch) {
		return
	}
	r, err := s.deps.Inventory.UpdateReport(c.Request.Context(), rc, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// DELETE /api/reports/:id
func (s *Server) handleDeleteReport(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	if err := s.deps.Inventory.DeleteReport(c.Request.Context(), rc, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "report deleted"})
}

// GET /api/reports/export?format=csv
func (s *Server) handleExportReports(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	renderer, err := export.ForFormat(c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}
	f, err := listFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	rows, err := s.deps.Inventory.ExportReports(c.Request.Context(), rc, f)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("reports-%s.%s", time.Now().UTC().Format("20060102-150405"), renderer.Extension())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("Content-Type", renderer.ContentType())
	c.Status(http.StatusOK)
	if err := renderer.Render(c.Writer, rows); err != nil {
		// Headers are gone; the truncated body is all the client gets.
		logging.FromGin(c).Error().Err(err).Msg("Export rendering failed")
	}
}

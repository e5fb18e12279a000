package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

// cacheStatus reports the read-through cache state for health output.
func (s *Server) cacheStatus() string {
	switch {
	case s.deps.Cache == nil:
		return "disabled"
	case s.deps.Cache.IsHealthy():
		return "healthy"
	default:
		return "degraded"
	}
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

// listFilter reads owner, status, search, limit and offset. The filter
// fields double as the cache fingerprint of list responses.
func listFilter(c *gin.Context) (database.ListFilter, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return database.ListFilter{}, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return database.ListFilter{}, err
	}
	f := database.ListFilter{
		OwnerEmail: strings.ToLower(strings.TrimSpace(c.Query("owner"))),
		Status:     strings.TrimSpace(c.Query("status")),
		Search:     strings.TrimSpace(c.Query("search")),
		Limit:      limit,
		Offset:     offset,
	}
	f.Normalize()
	return f, nil
}

func licenseFilter(c *gin.Context) (database.LicenseFilter, error) {
	f, err := listFilter(c)
	if err != nil {
		return database.LicenseFilter{}, err
	}
	return database.LicenseFilter{
		Status:     strings.ToUpper(f.Status),
		Edition:    strings.ToUpper(strings.TrimSpace(c.Query("edition"))),
		OwnerEmail: f.OwnerEmail,
		Search:     f.Search,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}, nil
}

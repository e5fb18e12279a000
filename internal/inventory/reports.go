package inventory

import (
	"context"
	"strings"
	"time"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/export"
	"erasure-cloud/internal/rbac"
)

// ListReports returns a page of reports in the caller's scope.
func (s *Service) ListReports(ctx context.Context, actor *Actor, f database.ListFilter) (*database.Page[database.Report], error) {
	g, err := s.require(ctx, actor, rbac.PermReportsRead)
	if err != nil {
		return nil, err
	}
	f.Normalize()
	f.OwnerEmail = scope(g, actor, f.OwnerEmail)

	store := actor.Store()
	key := cache.NewKey(cache.KindReports, f.OwnerEmail, auth.TenantKey(actor.Tenant), listParams(f))
	return cache.GetOrLoad(ctx, s.cache, key, func(ctx context.Context) (*database.Page[database.Report], error) {
		rows, total, err := store.ListReports(ctx, f)
		if err != nil {
			return nil, apperr.External("failed to list reports", err)
		}
		return database.NewPage(rows, total, f), nil
	})
}

func (s *Service) loadReport(ctx context.Context, g *rbac.Grants, actor *Actor, id string) (*database.Report, error) {
	r, err := actor.Store().GetReport(ctx, id)
	if err != nil {
		return nil, apperr.External("failed to load report", err)
	}
	if r == nil || !visible(g, actor, r.OwnerEmail) {
		return nil, apperr.NotFound("report %s not found", id)
	}
	return r, nil
}

// GetReport returns one report in the caller's scope.
func (s *Service) GetReport(ctx context.Context, actor *Actor, id string) (*database.Report, error) {
	g, err := s.require(ctx, actor, rbac.PermReportsRead)
	if err != nil {
		return nil, err
	}
	return s.loadReport(ctx, g, actor, id)
}

func checkTimes(started, finished *time.Time) error {
	if started != nil && finished != nil && finished.Before(*started) {
		return apperr.Validation("finished_at is before started_at")
	}
	return nil
}

// CreateReport records an erasure run. A referenced machine must be one
// the caller can see.
func (s *Service) CreateReport(ctx context.Context, actor *Actor, req ReportRequest) (*database.Report, error) {
	g, err := s.require(ctx, actor, rbac.PermReportsManage)
	if err != nil {
		return nil, err
	}
	method := strings.TrimSpace(req.ErasureMethod)
	if method == "" {
		return nil, apperr.Validation("erasure_method is required")
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = ReportCompleted
	}
	if !validReportStatus(status) {
		return nil, apperr.Validation("unknown report status %q", status)
	}
	if err := checkTimes(req.StartedAt, req.FinishedAt); err != nil {
		return nil, err
	}

	var machineID *string
	if req.MachineID != nil && strings.TrimSpace(*req.MachineID) != "" {
		m, err := s.loadMachine(ctx, g, actor, strings.TrimSpace(*req.MachineID))
		if err != nil {
			return nil, err
		}
		machineID = &m.ID
	}

	r := &database.Report{
		OwnerEmail:     actor.Principal.OwnerEmail(),
		MachineID:      machineID,
		CreatedByEmail: actor.Principal.Email,
		ErasureMethod:  method,
		DiskSerial:     strings.TrimSpace(req.DiskSerial),
		DiskModel:      req.DiskModel,
		DiskSizeBytes:  req.DiskSizeBytes,
		Status:         status,
		StartedAt:      req.StartedAt,
		FinishedAt:     req.FinishedAt,
		Notes:          req.Notes,
	}
	if err := actor.Store().CreateReport(ctx, r); err != nil {
		return nil, database.AsAppError(err, "report", "failed to create report")
	}

	s.invalidate(ctx, r.OwnerEmail, cache.KindReports)
	return r, nil
}

// UpdateReport applies patch to a report in the caller's scope.
func (s *Service) UpdateReport(ctx context.Context, actor *Actor, id string, patch ReportPatch) (*database.Report, error) {
	g, err := s.require(ctx, actor, rbac.PermReportsManage)
	if err != nil {
		return nil, err
	}
	r, err := s.loadReport(ctx, g, actor, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		if !validReportStatus(*patch.Status) {
			return nil, apperr.Validation("unknown report status %q", *patch.Status)
		}
		r.Status = *patch.Status
	}
	if patch.StartedAt != nil {
		r.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		r.FinishedAt = patch.FinishedAt
	}
	if patch.Notes != nil {
		r.Notes = *patch.Notes
	}
	if err := checkTimes(r.StartedAt, r.FinishedAt); err != nil {
		return nil, err
	}

	if err := actor.Store().UpdateReport(ctx, r); err != nil {
		return nil, database.AsAppError(err, "report", "failed to update report")
	}
	s.invalidate(ctx, r.OwnerEmail, cache.KindReports)
	return r, nil
}

// DeleteReport removes a report.
func (s *Service) DeleteReport(ctx context.Context, actor *Actor, id string) error {
	g, err := s.require(ctx, actor, rbac.PermReportsManage)
	if err != nil {
		return err
	}
	r, err := s.loadReport(ctx, g, actor, id)
	if err != nil {
		return err
	}
	if err := actor.Store().DeleteReport(ctx, id); err != nil {
		return database.AsAppError(err, "report", "failed to delete report")
	}
	s.invalidate(ctx, r.OwnerEmail, cache.KindReports)
	s.logger.Info().Str("report", id).Str("by", actor.Principal.Email).Msg("Report deleted")
	return nil
}

// ExportReports collects every report matching f, up to MaxExportRows,
// as a row set. Limit and Offset in f are ignored.
func (s *Service) ExportReports(ctx context.Context, actor *Actor, f database.ListFilter) (export.RowSet, error) {
	g, err := s.require(ctx, actor, rbac.PermReportsExport)
	if err != nil {
		return export.RowSet{}, err
	}
	f.OwnerEmail = scope(g, actor, f.OwnerEmail)
	f.Limit, f.Offset = 100, 0

	var all []database.Report
	for len(all) < MaxExportRows {
		rows, total, err := actor.Store().ListReports(ctx, f)
		if err != nil {
			return export.RowSet{}, apperr.External("failed to list reports", err)
		}
		all = append(all, rows...)
		f.Offset += len(rows)
		if len(rows) == 0 || f.Offset >= total {
			break
		}
	}
	if len(all) > MaxExportRows {
		all = all[:MaxExportRows]
	}
	s.logger.Info().Int("rows", len(all)).Str("owner", f.OwnerEmail).Str("by", actor.Principal.Email).Msg("Reports exported")
	return export.ReportRows(all), nil
}

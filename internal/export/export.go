// Package export renders flat row sets for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/database"
)

// RowSet is a header and string rows of equal width.
type RowSet struct {
	Header []string
	Rows   [][]string
}

// Renderer turns a RowSet into a byte stream.
type Renderer interface {
	ContentType() string
	Extension() string
	Render(w io.Writer, rs RowSet) error
}

// ForFormat returns the renderer for format ("csv" when empty).
func ForFormat(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return CSV{}, nil
	}
	return nil, apperr.Validation("unsupported export format %q", format)
}

// CSV writes RFC 4180 output.
type CSV struct{}

func (CSV) ContentType() string { return "text/csv; charset=utf-8" }

func (CSV) Extension() string { return "csv" }

// Render writes the header and rows. Cells that a spreadsheet would run
// as a formula are prefixed with a quote.
func (CSV) Render(w io.Writer, rs RowSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rs.Header); err != nil {
		return apperr.External("failed to write export", err)
	}
	for i, row := range rs.Rows {
		if len(row) != len(rs.Header) {
			return apperr.Internal(fmt.Sprintf("export row %d has %d cells, want %d", i, len(row), len(rs.Header)), nil)
		}
		safe := make([]string, len(row))
		for j, cell := range row {
			safe[j] = neutralize(cell)
		}
		if err := cw.Write(safe); err != nil {
			return apperr.External("failed to write export", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperr.External("failed to write export", err)
	}
	return nil
}

func neutralize(cell string) string {
	if cell == "" {
		return cell
	}
	switch cell[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + cell
	}
	return cell
}

// ReportHeader is the column order of ReportRows.
var ReportHeader = []string{
	"id", "owner_email", "machine_id", "created_by", "erasure_method",
	"disk_serial", "disk_model", "disk_size_bytes", "status",
	"started_at", "finished_at", "notes", "created_at",
}

// ReportRows flattens reports for rendering. Times are RFC 3339 UTC.
func ReportRows(reports []database.Report) RowSet {
	rs := RowSet{Header: ReportHeader, Rows: make([][]string, 0, len(reports))}
	for _, r := range reports {
		machine := ""
		if r.MachineID != nil {
			machine = *r.MachineID
		}
		rs.Rows = append(rs.Rows, []string{
			r.ID,
			r.OwnerEmail,
			machine,
			r.CreatedByEmail,
			r.ErasureMethod,
			r.DiskSerial,
			r.DiskModel,
			strconv.FormatInt(r.DiskSizeBytes, 10),
			r.Status,
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
			r.Notes,
			r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rs
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

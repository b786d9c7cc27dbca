package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"app_kernel/internal/audit"
	"app_kernel/internal/controller"
)

const auditSheet = "Requests"

var auditColumns = []string{
	"Occurred At", "Request ID", "Method", "Path", "Route",
	"Status", "Duration (ms)", "Client IP", "User Agent",
}

// AuditReport serves GET /admin/reports/audit: the newest audit rows as an
// xlsx download. ?limit caps the row count (default 100, max 10000).
func (h *Handler) AuditReport(ctx *controller.Context) (any, error) {
	limit := 100
	if raw := ctx.Snapshot.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			ctx.Status(400)
			return ctx.JSON(map[string]string{"error": "limit must be a positive integer"})
		}
		limit = parsed
	}
	if limit > 10000 {
		limit = 10000
	}

	records, err := audit.RecentRecords(ctx.Ctx, h.Pool, limit)
	if err != nil {
		return nil, fmt.Errorf("handlers: loading audit records: %w", err)
	}

	f, err := buildAuditWorkbook(records)
	if err != nil {
		return nil, fmt.Errorf("handlers: building audit workbook: %w", err)
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("handlers: encoding audit workbook: %w", err)
	}

	filename := "audit_" + time.Now().UTC().Format("2006-01-02") + ".xlsx"
	ctx.SetHeader("Content-Disposition", "attachment; filename="+filename)
	ctx.SetHeader("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	return buf.Bytes(), nil
}

func buildAuditWorkbook(records []audit.Record) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(auditSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for i, col := range auditColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(auditSheet, cell, col)
	}

	for row, rec := range records {
		values := []any{
			rec.OccurredAt.UTC().Format(time.RFC3339),
			rec.RequestID,
			rec.Method,
			rec.Path,
			rec.Route,
			rec.Status,
			rec.DurationMs,
			rec.ClientIP,
			rec.UserAgent,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(auditSheet, cell, v)
		}
	}
	return f, nil
}

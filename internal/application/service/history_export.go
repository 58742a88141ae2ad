package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/recruit-workflow/internal/domain/entity"
)

const historySheet = "History"

var historyHeader = []string{
	"Entry ID", "Timestamp (UTC)", "From", "To", "Action", "Role", "Identity", "Note",
}

// HistoryExporter writes an application's trail as a spreadsheet
type HistoryExporter struct {
	trail  AuditTrailService
	logger Logger
}

// NewHistoryExporter creates a new exporter on top of the audit trail
func NewHistoryExporter(trail AuditTrailService, logger Logger) *HistoryExporter {
	return &HistoryExporter{
		trail:  trail,
		logger: logger,
	}
}

// WriteXLSX renders one row per audit entry under a header row
func (e *HistoryExporter) WriteXLSX(ctx context.Context, applicationID string, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), historySheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for col, title := range historyHeader {
		if err := e.setCell(f, col+1, 1, title); err != nil {
			return err
		}
	}

	row := 2
	for entry, err := range e.trail.Entries(ctx, applicationID) {
		if err != nil {
			return err
		}
		if err := e.writeEntry(f, row, entry); err != nil {
			return err
		}
		row++
	}

	if err := f.SetPanes(historySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		e.logger.Error("Failed to freeze header row", "error", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("History exported", "application_id", applicationID, "entries", row-2)
	return nil
}

func (e *HistoryExporter) writeEntry(f *excelize.File, row int, entry *entity.AuditEntry) error {
	values := []interface{}{
		entry.ID,
		entry.Timestamp.UTC().Format(time.RFC3339),
		entry.FromStatus.String(),
		entry.ToStatus.String(),
		entry.Action.String(),
		entry.PerformedByRole.String(),
		entry.PerformedByIdentity,
		entry.NoteText(),
	}
	for col, v := range values {
		if err := e.setCell(f, col+1, row, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *HistoryExporter) setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("invalid cell %d,%d: %w", col, row, err)
	}
	if err := f.SetCellValue(historySheet, cell, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", cell, err)
	}
	return nil
}

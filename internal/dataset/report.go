package dataset

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ReportRow is one replayed event and how its run ended.
type ReportRow struct {
	TargetID     int64
	TargetKind   string
	RecordingURL string
	Status       string
	Stage        string
	DealID       int64
	WasCreated   bool
	Reason       string
}

var reportHeader = []interface{}{"target_id", "target_kind", "record_url", "status", "stage", "deal_id", "deal_created", "reason"}

const reportSheet = "Results"

// WriteReport saves rows as an xlsx workbook with a single Results sheet.
func WriteReport(path string, rows []ReportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(reportSheet, "A1", &reportHeader); err != nil {
		return err
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := []interface{}{r.TargetID, r.TargetKind, r.RecordingURL, r.Status, r.Stage, r.DealID, r.WasCreated, r.Reason}
		if err := f.SetSheetRow(reportSheet, cell, &vals); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

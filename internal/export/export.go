package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"negotiation-scoring-go/internal/logger"
	"negotiation-scoring-go/internal/storage"
	"negotiation-scoring-go/internal/types"
)

const sheetName = "Reports"

var header = []string{
	"Session ID", "Scenario", "Participant", "Session Date", "Duration (s)",
	"Letter Grade",
	"Process Discipline", "Leverage Control", "Information Gathering", "Outcome Quality", "Professionalism",
	"Achievements", "Combos", "Tips", "Degraded",
}

// WriteSummary renders every stored report (latest revision per session) as
// one row of an xlsx workbook, for longitudinal comparison outside the API.
func WriteSummary(backend storage.Backend, w io.Writer) error {
	log := logger.New().WithField("component", "export")

	reports, err := backend.ListReports()
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}
	log.WithField("report_count", len(reports)).Info("building summary workbook")

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for col, title := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, report := range reports {
		if err := writeRow(f, i+2, report); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, row int, report types.AfterActionReport) error {
	meta := report.SessionMetadata
	values := []any{
		meta.SessionID,
		meta.ScenarioID,
		meta.ParticipantID,
		time.Unix(int64(meta.SessionStartTime), 0).UTC().Format("2006-01-02 15:04"),
		meta.SessionDuration,
		report.LetterGrade,
		report.PrimaryStats[types.DimProcessDiscipline].Score,
		report.PrimaryStats[types.DimLeverageControl].Score,
		report.PrimaryStats[types.DimInformationGathering].Score,
		report.PrimaryStats[types.DimOutcomeQuality].Score,
		report.PrimaryStats[types.DimProfessionalism].Score,
		len(report.Achievements),
		len(report.ComboMoments),
		len(report.ImprovementTips),
		report.Errors.Any(),
	}
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		if err := f.SetCellValue(sheetName, cell, v); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
	}
	return nil
}

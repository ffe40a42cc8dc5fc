package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	monitor "proximity-guard/internal/monitor/domain"
)

// BuildEpisodesPDF renders an episode history report for one session.
func BuildEpisodesPDF(sessionID string, thresholds monitor.Thresholds, episodes []monitor.Episode) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Proximity Episode Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Session: %s", sessionID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Thresholds: horizontal %.2f m, vertical %.2f m", thresholds.HorizontalM, thresholds.VerticalM))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Episodes: %d", len(episodes)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(34, 6, "Episode", "1", 0, "C", false, 0, "")
	pdf.CellFormat(38, 6, "Opened", "1", 0, "C", false, 0, "")
	pdf.CellFormat(38, 6, "Closed", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Trigger (h/v m)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Hold Outcomes", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, episode := range episodes {
		closed := "open"
		if !episode.ClosedAt.IsZero() {
			closed = episode.ClosedAt.UTC().Format("15:04:05 01-02")
		}
		pdf.CellFormat(34, 6, episode.ID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(38, 6, episode.OpenedAt.UTC().Format("15:04:05 01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(38, 6, closed, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.2f / %.2f", episode.Trigger.HorizontalM, episode.Trigger.VerticalM), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, actionSummary(episode), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildEpisodesXLSX renders an episode history workbook for one session.
func BuildEpisodesXLSX(sessionID string, thresholds monitor.Thresholds, episodes []monitor.Episode) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	episodesSheet := "episodes"
	actionsSheet := "actions"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(episodesSheet)
	f.NewSheet(actionsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Proximity Episode Report")
	_ = f.SetCellValue(summarySheet, "A3", "Session")
	_ = f.SetCellValue(summarySheet, "B3", sessionID)
	_ = f.SetCellValue(summarySheet, "A4", "Horizontal Threshold (m)")
	_ = f.SetCellValue(summarySheet, "B4", thresholds.HorizontalM)
	_ = f.SetCellValue(summarySheet, "A5", "Vertical Threshold (m)")
	_ = f.SetCellValue(summarySheet, "B5", thresholds.VerticalM)
	_ = f.SetCellValue(summarySheet, "A6", "Episodes")
	_ = f.SetCellValue(summarySheet, "B6", len(episodes))
	_ = f.SetCellValue(summarySheet, "A7", "Generated")
	_ = f.SetCellValue(summarySheet, "B7", time.Now().UTC().Format(time.RFC3339))

	_ = f.SetCellValue(episodesSheet, "A1", "Episode")
	_ = f.SetCellValue(episodesSheet, "B1", "Opened")
	_ = f.SetCellValue(episodesSheet, "C1", "Closed")
	_ = f.SetCellValue(episodesSheet, "D1", "Trigger Horizontal (m)")
	_ = f.SetCellValue(episodesSheet, "E1", "Trigger Vertical (m)")

	_ = f.SetCellValue(actionsSheet, "A1", "Episode")
	_ = f.SetCellValue(actionsSheet, "B1", "Vehicle")
	_ = f.SetCellValue(actionsSheet, "C1", "Outcome")
	_ = f.SetCellValue(actionsSheet, "D1", "Attempts")
	_ = f.SetCellValue(actionsSheet, "E1", "Detail")
	_ = f.SetCellValue(actionsSheet, "F1", "Updated")

	actionRow := 2
	for i, episode := range episodes {
		row := i + 2
		closed := ""
		if !episode.ClosedAt.IsZero() {
			closed = episode.ClosedAt.UTC().Format(time.RFC3339)
		}
		_ = f.SetCellValue(episodesSheet, fmt.Sprintf("A%d", row), episode.ID)
		_ = f.SetCellValue(episodesSheet, fmt.Sprintf("B%d", row), episode.OpenedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(episodesSheet, fmt.Sprintf("C%d", row), closed)
		_ = f.SetCellValue(episodesSheet, fmt.Sprintf("D%d", row), episode.Trigger.HorizontalM)
		_ = f.SetCellValue(episodesSheet, fmt.Sprintf("E%d", row), episode.Trigger.VerticalM)

		for _, action := range episode.ActionList() {
			_ = f.SetCellValue(actionsSheet, fmt.Sprintf("A%d", actionRow), episode.ID)
			_ = f.SetCellValue(actionsSheet, fmt.Sprintf("B%d", actionRow), action.VehicleID)
			_ = f.SetCellValue(actionsSheet, fmt.Sprintf("C%d", actionRow), string(action.Outcome))
			_ = f.SetCellValue(actionsSheet, fmt.Sprintf("D%d", actionRow), action.Attempts)
			_ = f.SetCellValue(actionsSheet, fmt.Sprintf("E%d", actionRow), action.Detail)
			_ = f.SetCellValue(actionsSheet, fmt.Sprintf("F%d", actionRow), action.UpdatedAt.UTC().Format(time.RFC3339))
			actionRow++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func actionSummary(episode monitor.Episode) string {
	actions := episode.ActionList()
	if len(actions) == 0 {
		return "-"
	}
	summary := ""
	for i, action := range actions {
		if i > 0 {
			summary += ", "
		}
		summary += fmt.Sprintf("%s:%s", action.VehicleID, action.Outcome)
	}
	return summary
}

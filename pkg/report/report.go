package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/titanworks/titan/pkg/engine"
	"github.com/titanworks/titan/pkg/stores"
)

// Sheet names.
const (
	SummarySheet         = "Summary"
	RunsSheet            = "Runs"
	RecommendationsSheet = "Recommendations"
	ActionsSheet         = "Automated Actions"
)

const timeLayout = "2006-01-02 15:04:05"

// Source is the store view a report is built from.
type Source interface {
	ListRuns(ctx context.Context, filter stores.RunFilter) ([]*stores.Run, error)
	ListRecommendations(ctx context.Context, status stores.RecommendationStatus, limit, offset int) ([]*stores.Recommendation, error)
	ListAutomatedActions(ctx context.Context, equipmentID string, limit, offset int) ([]*stores.AutomatedAction, error)
}

// Data is everything one workbook shows.
type Data struct {
	GeneratedAt     time.Time
	EquipmentID     string
	Runs            []*stores.Run
	Recommendations []*stores.Recommendation
	Actions         []*stores.AutomatedAction
}

// Collect reads up to limit rows of each kind, optionally for one equipment.
func Collect(ctx context.Context, src Source, equipmentID string, limit int, now time.Time) (*Data, error) {
	runs, err := src.ListRuns(ctx, stores.RunFilter{EquipmentID: equipmentID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	recs, err := src.ListRecommendations(ctx, "", limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	if equipmentID != "" {
		filtered := recs[:0]
		for _, rec := range recs {
			if rec.EquipmentID == equipmentID {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	actions, err := src.ListAutomatedActions(ctx, equipmentID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list automated actions: %w", err)
	}
	return &Data{
		GeneratedAt:     now,
		EquipmentID:     equipmentID,
		Runs:            runs,
		Recommendations: recs,
		Actions:         actions,
	}, nil
}

// BuildWorkbook renders d as an XLSX workbook.
func BuildWorkbook(d *Data) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", SummarySheet)
	for _, name := range []string{RunsSheet, RecommendationsSheet, ActionsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	writeSummary(f, d)
	writeTable(f, header, RunsSheet,
		[]string{"Run", "Goal", "Equipment", "Severity", "Status", "Parent", "Event", "Trace", "Failed Action", "Reason", "Last Fact", "Created", "Finished"},
		runRows(d.Runs))
	writeTable(f, header, RecommendationsSheet,
		[]string{"Recommendation", "Run", "Equipment", "Facility", "Risk", "Failure Probability", "Fault", "Urgency", "Recommended Action", "Estimated Cost", "Status", "Created", "Expires", "Decided By", "Decided", "Work Order", "Notes"},
		recommendationRows(d.Recommendations))
	writeTable(f, header, ActionsSheet,
		[]string{"Action", "Run", "Equipment", "Facility", "Type", "Work Order", "Compliance", "Notified", "Summary", "Created"},
		actionRows(d.Actions))

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, d *Data) {
	counts := map[engine.RunStatus]int{}
	for _, run := range d.Runs {
		counts[run.Status]++
	}
	pending := 0
	for _, rec := range d.Recommendations {
		if rec.Status == stores.RecommendationPending {
			pending++
		}
	}
	scope := d.EquipmentID
	if scope == "" {
		scope = "all equipment"
	}

	rows := [][]any{
		{"Titan Remediation Report"},
		{},
		{"Generated", d.GeneratedAt.UTC().Format(timeLayout)},
		{"Scope", scope},
		{"Runs", len(d.Runs)},
		{"Completed", counts[engine.RunStatusCompleted]},
		{"Failed", counts[engine.RunStatusFailed]},
		{"Superseded", counts[engine.RunStatusSuperseded]},
		{"Active", counts[engine.RunStatusActive]},
		{"Recommendations", len(d.Recommendations)},
		{"Pending Approval", pending},
		{"Automated Actions", len(d.Actions)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(SummarySheet, cell, &row)
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 22)
	_ = f.SetColWidth(SummarySheet, "B", "B", 24)
}

func writeTable(f *excelize.File, header int, sheet string, columns []string, rows [][]any) {
	head := make([]any, len(columns))
	for i, c := range columns {
		head[i] = c
	}
	_ = f.SetSheetRow(sheet, "A1", &head)
	last, _ := excelize.CoordinatesToCellName(len(columns), 1)
	_ = f.SetCellStyle(sheet, "A1", last, header)
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = f.SetSheetRow(sheet, cell, &row)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	_ = f.SetColWidth(sheet, "A", lastCol, 18)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func runRows(runs []*stores.Run) [][]any {
	rows := make([][]any, 0, len(runs))
	for _, run := range runs {
		var action, reason, lastFact string
		if run.Failure != nil {
			action, reason, lastFact = run.Failure.Action, run.Failure.Reason, string(run.Failure.LastFact)
		}
		created := run.CreatedAt
		rows = append(rows, []any{
			run.ID, run.Goal, run.EquipmentID, run.Severity, string(run.Status), run.ParentID, run.EventID,
			strings.Join(run.Trace, " > "), action, reason, lastFact,
			formatTime(&created), formatTime(run.FinishedAt),
		})
	}
	return rows
}

func recommendationRows(recs []*stores.Recommendation) [][]any {
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		created, expires := rec.CreatedAt, rec.ExpiresAt
		rows = append(rows, []any{
			rec.ID, rec.RunID, rec.EquipmentID, rec.FacilityID, rec.RiskLevel, rec.FailureProbability,
			rec.FaultType, rec.Urgency, rec.RecommendedAction, rec.EstimatedCost, string(rec.Status),
			formatTime(&created), formatTime(&expires), rec.DecidedBy, formatTime(rec.DecidedAt),
			rec.WorkOrderID, rec.Notes,
		})
	}
	return rows
}

func actionRows(actions []*stores.AutomatedAction) [][]any {
	rows := make([][]any, 0, len(actions))
	for _, a := range actions {
		created := a.CreatedAt
		notified := "no"
		if a.NotificationSent {
			notified = "yes"
		}
		rows = append(rows, []any{
			a.ID, a.RunID, a.EquipmentID, a.FacilityID, a.ActionType, a.WorkOrderID,
			a.ComplianceStatus, notified, a.Summary, formatTime(&created),
		})
	}
	return rows
}

package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/apresai/callsynth/internal/entity"
)

// Diversity rebuilds the batch diversity report from a saved dataset.
func Diversity(d *Dataset) entity.Report {
	agg := entity.NewAggregator()
	for _, c := range d.Conversations {
		agg.Record(c.Placeholders, c.ProfileIDs())
	}
	return agg.Report()
}

const (
	sheetSummary       = "Summary"
	sheetPlaceholders  = "Placeholders"
	sheetProfiles      = "Profiles"
	sheetConversations = "Conversations"
)

var diversityHeader = []any{"key", "group", "total", "unique", "unique_pct", "entropy", "score", "most_common"}

// WriteDiversityXLSX writes the diversity report and a per-conversation
// index of d to an Excel workbook at path.
func WriteDiversityXLSX(d *Dataset, r entity.Report, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetPlaceholders, sheetProfiles, sheetConversations} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	m := d.Metadata
	summary := [][]any{
		{"field", "value"},
		{"run_id", m.RunID},
		{"locale", m.Locale},
		{"kind", string(m.Kind)},
		{"model", m.Model},
		{"conversations", r.Conversations},
		{"planned", m.Counts.Planned},
		{"accepted", m.Counts.Accepted},
		{"rejected", m.Counts.Rejected},
		{"avg_placeholder_score", averageScore(r.Placeholders)},
		{"avg_profile_score", averageScore(r.Profiles)},
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return err
	}

	if err := writeRows(f, sheetPlaceholders, diversityRows(r.Placeholders)); err != nil {
		return err
	}
	if err := writeRows(f, sheetProfiles, diversityRows(r.Profiles)); err != nil {
		return err
	}

	convRows := [][]any{{"conversation_id", "kind", "seed_id", "template_id", "category", "victim_awareness", "num_turns", "attempts", "caller", "callee", "warnings"}}
	for _, c := range d.Conversations {
		ids := c.ProfileIDs()
		convRows = append(convRows, []any{
			c.ID, string(c.Kind), c.SeedID, c.TemplateID, c.Category, string(c.VictimAwareness),
			c.NumTurns, c.Attempts, ids["caller"], ids["callee"], len(c.Warnings),
		})
	}
	if err := writeRows(f, sheetConversations, convRows); err != nil {
		return err
	}

	for _, name := range f.GetSheetList() {
		if err := f.SetRowStyle(name, 1, 1, bold); err != nil {
			return fmt.Errorf("style header of %s: %w", name, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func diversityRows(ds []entity.Diversity) [][]any {
	rows := [][]any{diversityHeader}
	for _, d := range ds {
		common := make([]string, len(d.MostCommon))
		for i, vc := range d.MostCommon {
			common[i] = fmt.Sprintf("%s (%d)", vc.Value, vc.Count)
		}
		rows = append(rows, []any{
			d.Key, d.Group, d.Total, d.Unique,
			round2(d.UniquePct), round2(d.Entropy), round2(d.Score),
			strings.Join(common, "; "),
		})
	}
	return rows
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func averageScore(ds []entity.Diversity) float64 {
	if len(ds) == 0 {
		return 0
	}
	var sum float64
	for _, d := range ds {
		sum += d.Score
	}
	return round2(sum / float64(len(ds)))
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

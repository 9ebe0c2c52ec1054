package anomaly

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// csvHeader is the fixed column layout for CSV exports.
var csvHeader = []string{
	"id", "timestamp", "engagement_id", "obstacle_id",
	"confidence_score", "change_summary",
	"status_changed", "body_length_delta", "timing_delta_std", "similarity",
	"strategy", "lane",
}

// ExportCSV writes the record set as CSV for reviewers who triage in a
// spreadsheet. Cell values that a spreadsheet would execute as formulas
// are prefixed to neutralize them.
func (b *Buffer) ExportCSV(w io.Writer) error {
	records := b.Records()
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("anomaly: export csv: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			rec.EngagementID,
			rec.ObstacleID,
			strconv.FormatFloat(rec.ConfidenceScore, 'f', 4, 64),
			sanitizeCell(rec.ChangeSummary),
			strconv.FormatBool(rec.Delta.StatusChanged),
			strconv.FormatFloat(rec.Delta.BodyLengthDelta, 'f', 4, 64),
			strconv.FormatFloat(rec.Delta.TimingDeltaStd, 'f', 4, 64),
			strconv.FormatFloat(rec.Delta.Similarity, 'f', 4, 64),
			sanitizeCell(rec.Context["strategy"]),
			sanitizeCell(rec.Context["lane"]),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("anomaly: export csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("anomaly: export csv: %w", err)
	}
	return nil
}

// sanitizeCell defuses spreadsheet formula injection. Anomaly summaries
// quote attacker-controlled response bodies, so every text cell is hostile.
func sanitizeCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// Package ui renders the engagement summary for terminal consumption.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bypassforge/bypassforge/pkg/defaults"
	"github.com/bypassforge/bypassforge/pkg/review"
)

var (
	primary = lipgloss.Color("#7D56F4")
	success = lipgloss.Color("#00D26A")
	warning = lipgloss.Color("#FFB800")
	danger  = lipgloss.Color("#FF3838")
	muted   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(primary).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(muted).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	exploitStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	abandonStyle = lipgloss.NewStyle().Foreground(danger).Bold(true)
	recStyle     = lipgloss.NewStyle().Foreground(warning)
)

// Banner returns the tool banner line.
func Banner() string {
	return titleStyle.Render(defaults.ToolName+" "+defaults.Version) + "\n"
}

// RenderSummary renders a review report as a terminal summary block.
func RenderSummary(report *review.Report) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("engagement "+report.EngagementID) + "\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("obstacles", fmt.Sprintf("%d", report.Stats.Obstacles))
	row("bypasses", exploitStyle.Render(fmt.Sprintf("%d", report.Stats.Exploits)))
	row("abandoned", abandonStyle.Render(fmt.Sprintf("%d", report.Stats.Abandoned)))
	row("mean score", fmt.Sprintf("%.2f", report.Stats.MeanFinalScore))

	if len(report.Stats.ByLane) > 0 {
		var lanes []string
		for lane, n := range report.Stats.ByLane {
			lanes = append(lanes, fmt.Sprintf("%s:%d", lane, n))
		}
		row("lanes", strings.Join(lanes, "  "))
	}

	for _, adj := range report.WeightAdjustments {
		sb.WriteString(labelStyle.Render("weight") +
			valueStyle.Render(fmt.Sprintf("%s %+0.2f", adj.SignatureID, adj.Delta)) + "\n")
	}
	for _, rec := range report.Recommendations {
		sb.WriteString(recStyle.Render("! "+rec) + "\n")
	}
	return sb.String()
}

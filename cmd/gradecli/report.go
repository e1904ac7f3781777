package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ahrav/go-rubric/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// renderReport writes a boxed summary of grade followed by one row per
// category and the per-judge totals.
func renderReport(w io.Writer, grade domain.AggregatedGrade) error {
	header := titleStyle.Render(fmt.Sprintf("Score %s/%s (%d%%)",
		num(grade.TotalScore), num(grade.MaxScore), grade.PercentageScore))

	status := okStyle.Render("No review needed")
	if grade.RequiresReview {
		status = warnStyle.Render("Requires review: " + strings.Join(grade.FlaggedCategories, ", "))
	}

	flagged := make(map[string]bool, len(grade.FlaggedCategories))
	for _, c := range grade.FlaggedCategories {
		flagged[c] = true
	}

	nameWidth := len("Category")
	for _, acs := range grade.AverageScores {
		nameWidth = max(nameWidth, len(acs.Category))
	}

	rows := []string{dimStyle.Render(fmt.Sprintf("%-*s  %9s  %8s  %s", nameWidth, "Category", "Average", "Spread", "Judges"))}
	for _, acs := range grade.AverageScores {
		judgeScores := make([]string, len(acs.JudgeScores))
		for i, js := range acs.JudgeScores {
			judgeScores[i] = js.Model + "=" + num(js.Score)
		}
		row := fmt.Sprintf("%-*s  %9s  %7.0f%%  %s",
			nameWidth, acs.Category,
			num(acs.AverageScore)+"/"+num(acs.MaxPoints),
			acs.DisagreementPercent*100,
			strings.Join(judgeScores, " "))
		if flagged[acs.Category] {
			row = warnStyle.Render(row)
		}
		rows = append(rows, row)
	}

	judges := make([]string, len(grade.JudgeGrades))
	for i, g := range grade.JudgeGrades {
		judges[i] = fmt.Sprintf("%s: %s/%s", g.Model, num(g.TotalScore), num(g.MaxScore))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		status,
		"",
		strings.Join(rows, "\n"),
		"",
		dimStyle.Render(fmt.Sprintf("Threshold %s%%  |  %s", num(grade.DisagreementThreshold*100), strings.Join(judges, "  "))),
	)
	_, err := fmt.Fprintln(w, boxStyle.Render(body))
	return err
}

func num(x float64) string {
	return strconv.FormatFloat(domain.Round2(x), 'f', -1, 64)
}

// Package present turns a view into the two result panes and progress line
// shown by the dashboard and the headless commands. Nothing here mutates the
// view.
package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"proxy-dashboard/internal/model"
	"proxy-dashboard/internal/reconcile"
)

const (
	PlaceholderWorking = "no working proxies found"
	PlaceholderUnique  = "no unique proxies found"
)

type Pane struct {
	Tab         model.Tab
	Title       string
	Lines       []string
	Active      bool
	Placeholder string
}

func (p Pane) Count() int {
	return len(p.Lines)
}

func (p Pane) Empty() bool {
	return len(p.Lines) == 0
}

// Body is the pane content: its lines, or the placeholder when there are none.
func (p Pane) Body() []string {
	if p.Empty() {
		return []string{p.Placeholder}
	}
	return p.Lines
}

func Panes(view model.ViewState) []Pane {
	return []Pane{
		{
			Tab:         model.TabWorking,
			Title:       "Working",
			Lines:       view.Results.Working,
			Active:      view.ActiveTab != model.TabUnique,
			Placeholder: PlaceholderWorking,
		},
		{
			Tab:         model.TabUnique,
			Title:       "Unique IPs",
			Lines:       view.Results.Unique,
			Active:      view.ActiveTab == model.TabUnique,
			Placeholder: PlaceholderUnique,
		},
	}
}

// ActivePane returns the pane for view.ActiveTab.
func ActivePane(view model.ViewState) Pane {
	for _, p := range Panes(view) {
		if p.Active {
			return p
		}
	}
	return Panes(view)[0]
}

// ProgressLine is e.g. "1/2 (50%) | working 1 | unique 1 | failed 0".
func ProgressLine(p model.Progress) string {
	return fmt.Sprintf("%s | working %d | unique %d | failed %d",
		reconcile.ProgressLabel(p), p.WorkingCount, p.UniqueIPCount, p.FailedCount)
}

// StatusLabel is the human name of a status.
func StatusLabel(s model.Status) string {
	switch s {
	case model.StatusRunning:
		return "running"
	case model.StatusCompleted:
		return "completed"
	case model.StatusStopped:
		return "stopped"
	default:
		return "idle"
	}
}

var (
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	MutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	OKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	PanelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	TabStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	ActiveStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func statusStyle(s model.Status) lipgloss.Style {
	switch s {
	case model.StatusRunning:
		return TitleStyle
	case model.StatusCompleted:
		return OKStyle
	case model.StatusStopped:
		return ErrorStyle
	default:
		return MutedStyle
	}
}

// TabBar renders the pane titles with counts, highlighting the active one.
func TabBar(view model.ViewState) string {
	parts := make([]string, 0, 2)
	for _, p := range Panes(view) {
		label := fmt.Sprintf("%s (%d)", p.Title, p.Count())
		if p.Active {
			parts = append(parts, ActiveStyle.Render(label))
		} else {
			parts = append(parts, TabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// RenderPlain writes a text report of the view. Styles degrade to plain
// text when w is not a terminal.
func RenderPlain(view model.ViewState, w io.Writer) error {
	var b strings.Builder
	b.WriteString("status: " + statusStyle(view.Status).Render(StatusLabel(view.Status)) + "\n")
	if view.Status == model.StatusRunning || view.Progress.Total > 0 {
		b.WriteString("progress: " + ProgressLine(view.Progress) + "\n")
	}
	if name := strings.TrimSpace(view.LastExportedArtifact); name != "" {
		b.WriteString("exported: " + name + "\n")
	}
	for _, p := range Panes(view) {
		marker := " "
		if p.Active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s (%d)\n", marker, p.Title, p.Count())
		for _, line := range p.Body() {
			if p.Empty() {
				b.WriteString("    " + MutedStyle.Render(line) + "\n")
				continue
			}
			b.WriteString("    " + line + "\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

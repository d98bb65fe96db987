package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Dashboard renders telemetry for terminal display.
type Dashboard struct {
	styles DashboardStyles
	width  int
}

// DashboardStyles defines the styling for the dashboard.
type DashboardStyles struct {
	Border    lipgloss.Style
	Header    lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}

// NewDashboard creates a dashboard renderer.
func NewDashboard() *Dashboard {
	return &Dashboard{
		width:  80,
		styles: defaultDashboardStyles(),
	}
}

// defaultDashboardStyles returns the default dashboard styling.
func defaultDashboardStyles() DashboardStyles {
	return DashboardStyles{
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")),
		Label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		Value: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")),
		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("82")),
		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")),
		Highlight: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")),
	}
}

// SetWidth sets the dashboard width.
func (d *Dashboard) SetWidth(w int) {
	if w > 20 {
		d.width = w
	}
}

// RenderReport renders stored telemetry: totals, then one row per agent.
func (d *Dashboard) RenderReport(r *Report) string {
	var content strings.Builder

	content.WriteString(d.styles.Header.Render(fmt.Sprintf("TELEMETRY since %s", r.Since.Format("2006-01-02 15:04"))))
	content.WriteString("\n")

	content.WriteString(fmt.Sprintf("%s %s │ %s %s │ %s %s │ %s %s\n",
		d.styles.Label.Render("Requests:"),
		d.styles.Value.Render(formatCount(r.TotalRequests)),
		d.styles.Label.Render("Success:"),
		d.formatSuccessRate(r.SuccessRate()),
		d.styles.Label.Render("Latency:"),
		d.styles.Value.Render(formatLatency(r.AvgLatencyMs)),
		d.styles.Label.Render("Fallback:"),
		d.styles.Highlight.Render(fmt.Sprintf("%.0f%%", r.FallbackRate*100)),
	))

	if len(r.Agents) == 0 {
		content.WriteString(d.styles.Label.Render("no requests recorded"))
	} else {
		content.WriteString("\n")
		content.WriteString(d.styles.Label.Render(fmt.Sprintf("%-12s %9s %10s %6s %9s %7s", "AGENT", "REQUESTS", "LATENCY", "CONF", "FALLBACK", "ERRORS")))
		for _, a := range r.Agents {
			content.WriteString("\n")
			content.WriteString(fmt.Sprintf("%-12s %9s %10s %6.2f %8.0f%% %6.0f%%",
				a.Agent, formatCount(a.Requests), formatLatency(a.AvgLatencyMs), a.AvgConfidence, a.FallbackRate*100, a.ErrorRate*100))
		}
	}

	return d.styles.Border.Width(d.width - 4).Render(content.String())
}

// RenderSession renders in-process session statistics.
func (d *Dashboard) RenderSession(s *SessionStats) string {
	var content strings.Builder

	content.WriteString(d.styles.Header.Render("SESSION"))
	content.WriteString("\n")

	content.WriteString(fmt.Sprintf("%s %s │ %s %s │ %s %s\n",
		d.styles.Label.Render("Requests:"),
		d.styles.Value.Render(fmt.Sprintf("%d", s.RequestCount)),
		d.styles.Label.Render("Success:"),
		d.formatSuccessRate(s.SuccessRate()),
		d.styles.Label.Render("Latency:"),
		d.styles.Value.Render(fmt.Sprintf("%.2fs avg", s.AvgLatency().Seconds())),
	))

	content.WriteString(fmt.Sprintf("%s %s │ %s %s │ %s %s │ %s %s\n",
		d.styles.Label.Render("Tools:"),
		d.styles.Value.Render(fmt.Sprintf("%d calls, %d failed", s.ToolCalls, s.ToolFailures)),
		d.styles.Label.Render("Fallbacks:"),
		d.styles.Highlight.Render(fmt.Sprintf("%d", s.Fallbacks)),
		d.styles.Label.Render("Hand-offs:"),
		d.styles.Highlight.Render(fmt.Sprintf("%d", s.Handoffs)),
		d.styles.Label.Render("Quality:"),
		d.styles.Value.Render(fmt.Sprintf("%.2f", s.AvgQuality())),
	))

	lastEvent := s.LastEvent
	if lastEvent == "" {
		lastEvent = "none"
	}
	content.WriteString(fmt.Sprintf("%s %s │ %s %s (%s)",
		d.styles.Label.Render("Active:"),
		d.styles.Value.Render(fmt.Sprintf("%d", s.ActiveRequests)),
		d.styles.Label.Render("Last:"),
		d.styles.Value.Render(lastEvent),
		timeSince(s.LastEventTime),
	))

	return d.styles.Border.Width(d.width - 4).Render(content.String())
}

// RenderCompact returns a single-line summary.
func (d *Dashboard) RenderCompact(s *SessionStats) string {
	return fmt.Sprintf("[Metrics] %d req │ %.0f%% ok │ %.2fs avg │ %d tools │ %d fallbacks │ quality %.2f",
		s.RequestCount,
		s.SuccessRate(),
		s.AvgLatency().Seconds(),
		s.ToolCalls,
		s.Fallbacks,
		s.AvgQuality(),
	)
}

// formatSuccessRate formats the success rate with color.
func (d *Dashboard) formatSuccessRate(rate float64) string {
	formatted := fmt.Sprintf("%.0f%%", rate)
	if rate >= 90 {
		return d.styles.Success.Render(formatted)
	} else if rate >= 70 {
		return d.styles.Highlight.Render(formatted)
	}
	return d.styles.Error.Render(formatted)
}

func timeSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	elapsed := time.Since(t)
	switch {
	case elapsed < time.Second:
		return "now"
	case elapsed < time.Minute:
		return fmt.Sprintf("%.0fs ago", elapsed.Seconds())
	case elapsed < time.Hour:
		return fmt.Sprintf("%.0fm ago", elapsed.Minutes())
	default:
		return fmt.Sprintf("%.0fh ago", elapsed.Hours())
	}
}

func formatLatency(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

// formatCount formats large counts with k/M suffixes.
func formatCount(count int64) string {
	if count < 1000 {
		return fmt.Sprintf("%d", count)
	} else if count < 1000000 {
		return fmt.Sprintf("%.1fk", float64(count)/1000.0)
	}
	return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
}

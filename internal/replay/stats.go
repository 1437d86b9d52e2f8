package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/shipper/internal/session"
)

// ToolStats aggregates the results of one tool.
type ToolStats struct {
	Calls    int
	Failures int
	TotalMs  int64
	AvgMs    int64
}

// Stats holds aggregate statistics for a session.
type Stats struct {
	// First to last event
	TotalDurationMs int64

	Calls    int
	Pending  int // calls without a result
	Failures int

	Tools        map[string]*ToolStats
	FailureKinds map[string]int

	// Deployments by final state
	Deploys map[string]int
}

// ComputeStats calculates aggregate statistics from journal events.
func ComputeStats(events []session.Event) *Stats {
	stats := &Stats{
		Tools:        make(map[string]*ToolStats),
		FailureKinds: make(map[string]int),
		Deploys:      make(map[string]int),
	}

	var firstEvent, lastEvent time.Time
	open := make(map[string]bool)

	for _, event := range events {
		if firstEvent.IsZero() || event.Timestamp.Before(firstEvent) {
			firstEvent = event.Timestamp
		}
		if lastEvent.IsZero() || event.Timestamp.After(lastEvent) {
			lastEvent = event.Timestamp
		}

		switch event.Type {
		case session.EventToolCall:
			stats.Calls++
			open[event.CorrelationID] = true

		case session.EventToolResult:
			delete(open, event.CorrelationID)
			ts := stats.Tools[event.Tool]
			if ts == nil {
				ts = &ToolStats{}
				stats.Tools[event.Tool] = ts
			}
			ts.Calls++
			ts.TotalMs += event.DurationMs
			if event.Success != nil && !*event.Success {
				ts.Failures++
				stats.Failures++
				stats.FailureKinds[event.ErrorKind]++
			}

		case session.EventDeployStage:
			// Only terminal states count as a finished deployment.
			if m := event.Meta; m != nil && m.From != m.To && (m.To == "live" || m.To == "failed") {
				stats.Deploys[m.Provider+" "+m.To]++
			}
		}
	}
	stats.Pending = len(open)

	if !firstEvent.IsZero() && !lastEvent.IsZero() {
		stats.TotalDurationMs = lastEvent.Sub(firstEvent).Milliseconds()
	}
	for _, ts := range stats.Tools {
		if ts.Calls > 0 {
			ts.AvgMs = ts.TotalMs / int64(ts.Calls)
		}
	}
	return stats
}

// PrintStats outputs the statistics to the writer.
func PrintStats(w io.Writer, stats *Stats) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n",
		labelStyle.Render("Total Duration:"),
		valueStyle.Render(formatDuration(stats.TotalDurationMs)))
	fmt.Fprintf(w, "%s %s\n",
		labelStyle.Render("Tool Calls:    "),
		valueStyle.Render(fmt.Sprintf("%d", stats.Calls)))
	fmt.Fprintln(w)

	if len(stats.Tools) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Tools:"))
		for _, name := range sortedKeys(stats.Tools) {
			ts := stats.Tools[name]
			line := fmt.Sprintf("%d calls, avg %s", ts.Calls, formatDuration(ts.AvgMs))
			if ts.Failures > 0 {
				line += errorStyle.Render(fmt.Sprintf(", %d failed", ts.Failures))
			}
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(name+":"), valueStyle.Render(line))
		}
		fmt.Fprintln(w)
	}

	if len(stats.FailureKinds) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Failures:"))
		for _, kind := range sortedKeys(stats.FailureKinds) {
			fmt.Fprintf(w, "  %s %s\n", errorStyle.Render(kind+":"), valueStyle.Render(fmt.Sprintf("%d", stats.FailureKinds[kind])))
		}
		fmt.Fprintln(w)
	}

	if len(stats.Deploys) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Deployments:"))
		for _, k := range sortedKeys(stats.Deploys) {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(k+":"), valueStyle.Render(fmt.Sprintf("%d", stats.Deploys[k])))
		}
		fmt.Fprintln(w)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatDuration formats milliseconds as human-readable duration.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm%ds", mins, secs)
}

// Package replay renders session journals and deployment runs for the
// terminal.
package replay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vinayprograms/shipper/internal/deploy"
	"github.com/vinayprograms/shipper/internal/session"
)

// Replayer formats journal events and runs.
type Replayer struct {
	output    io.Writer
	verbosity int // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	width     int // wrap width for long values (0 = no wrapping)
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithWidth wraps long values at width columns.
func WithWidth(width int) ReplayerOption {
	return func(r *Replayer) {
		r.width = width
	}
}

// New creates a new Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:    output,
		verbosity: verbosity,
		width:     100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Replay prints the timeline of one session followed by its summary.
func (r *Replayer) Replay(sessionID string, events []session.Event) error {
	r.printHeader(sessionID, events)
	r.printTimeline(events)
	r.printSummary(events)
	return nil
}

// ReplayRuns prints persisted deployment runs, oldest first.
func (r *Replayer) ReplayRuns(runs []*deploy.Run) error {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("RUNS"), dimStyle.Render(fmt.Sprintf("(%d)", len(runs))))
	fmt.Fprintln(r.output, divider)
	if len(runs) == 0 {
		fmt.Fprintln(r.output, dimStyle.Render("no deployments"))
		return nil
	}
	for _, run := range runs {
		r.formatRun(run)
	}
	return nil
}

// Render runs fn against a buffer and returns what it wrote.
func (r *Replayer) Render(fn func(*Replayer) error) (string, error) {
	var buf strings.Builder
	old := r.output
	r.output = &buf
	defer func() { r.output = old }()
	if err := fn(r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ReplayInteractive shows the session timeline in the pager.
func (r *Replayer) ReplayInteractive(sessionID string, events []session.Event) error {
	content, err := r.Render(func(r *Replayer) error { return r.Replay(sessionID, events) })
	if err != nil {
		return err
	}
	return NewPager("Session: " + sessionID).Run(content)
}

// ReplayLive shows the session timeline and re-renders whenever the
// journal file changes.
func (r *Replayer) ReplayLive(journal *session.Journal, sessionID string) error {
	path, err := journal.Path(sessionID)
	if err != nil {
		return err
	}
	render := func() (string, error) {
		events, err := journal.Load(sessionID)
		if err != nil {
			return "", err
		}
		return r.Render(func(r *Replayer) error { return r.Replay(sessionID, events) })
	}
	return NewPager(fmt.Sprintf("Session: %s (LIVE)", sessionID)).RunLive(path, render)
}

func (r *Replayer) printHeader(sessionID string, events []session.Event) {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("SESSION"), valueStyle.Render(sessionID))
	fmt.Fprintln(r.output, divider)
	if len(events) > 0 {
		first, last := events[0].Timestamp, events[len(events)-1].Timestamp
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Started:"), valueStyle.Render(first.Format(time.RFC3339)))
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Last:   "), valueStyle.Render(last.Format(time.RFC3339)))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(events []session.Event) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(events))))
	fmt.Fprintln(r.output, divider)
	for i := range events {
		r.formatEvent(&events[i])
	}
}

func (r *Replayer) printSummary(events []session.Event) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)

	stats := ComputeStats(events)
	switch {
	case stats.Pending > 0:
		fmt.Fprintln(r.output, warnStyle.Render(fmt.Sprintf("%d CALL(S) IN PROGRESS", stats.Pending)))
	case stats.Failures > 0:
		fmt.Fprintln(r.output, errorStyle.Render(fmt.Sprintf("%d FAILED CALL(S)", stats.Failures)))
	default:
		fmt.Fprintln(r.output, successStyle.Render("OK"))
	}
	PrintStats(r.output, stats)
}

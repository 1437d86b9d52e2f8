package replay

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/shipper/internal/deploy"
	"github.com/vinayprograms/shipper/internal/session"
)

const gutter = "      │          │   "

// formatEvent formats a single event for display.
func (r *Replayer) formatEvent(event *session.Event) {
	ts := timeStyle.Render(event.Timestamp.Format("15:04:05"))
	seqNum := seqStyle.Render(fmt.Sprintf("%d", event.SeqID))

	switch event.Type {
	case session.EventToolCall:
		r.fmtToolCall(seqNum, ts, event)
	case session.EventToolResult:
		r.fmtToolResult(seqNum, ts, event)
	case session.EventDeployStage:
		r.fmtDeployStage(seqNum, ts, event)
	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seqNum, ts, dimStyle.Render(event.Type))
	}
}

func (r *Replayer) fmtToolCall(seqNum, ts string, event *session.Event) {
	fmt.Fprintf(r.output, "%s │ %s │ %s %s %s\n", seqNum, ts,
		toolStyle.Render("TOOL CALL:"),
		valueStyle.Render(event.Tool),
		dimStyle.Render(shortID(event.CorrelationID)))
	if r.verbosity >= 1 {
		r.printArgs(event.Args)
	}
}

func (r *Replayer) fmtToolResult(seqNum, ts string, event *session.Event) {
	status := successStyle.Render("ok")
	if event.Success != nil && !*event.Success {
		status = errorStyle.Render(event.ErrorKind)
	}
	fmt.Fprintf(r.output, "%s │ %s │ %s %s %s %s\n", seqNum, ts,
		toolStyle.Render("TOOL RESULT:"),
		valueStyle.Render(event.Tool),
		status,
		dimStyle.Render(fmt.Sprintf("(%dms)", event.DurationMs)))
	if event.Error != "" {
		r.printError(event.Error)
	}
}

func (r *Replayer) fmtDeployStage(seqNum, ts string, event *session.Event) {
	m := event.Meta
	if m == nil {
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seqNum, ts, deployStyle.Render("DEPLOY"))
		return
	}
	label := deployStyle.Render("DEPLOY " + strings.ToUpper(m.Provider) + ":")
	switch {
	case m.From == m.To:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s %s\n", seqNum, ts, label,
			dimStyle.Render(m.To), deployNoteStyle.Render(m.Note))
	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s → %s\n", seqNum, ts, label,
			dimStyle.Render(m.From), r.stateStyle(m.To))
	}
	if m.URL != "" {
		fmt.Fprintf(r.output, "%s%s %s\n", gutter, labelStyle.Render("url:"), urlStyle.Render(m.URL))
	}
	if m.Stage != "" {
		fmt.Fprintf(r.output, "%s%s %s\n", gutter, labelStyle.Render("stage:"), errorStyle.Render(m.Stage))
	}
	if event.Error != "" {
		r.printError(event.Error)
	}
	if r.verbosity >= 1 && m.TargetID != "" {
		fmt.Fprintf(r.output, "%s%s %s\n", gutter, labelStyle.Render("target:"), dimStyle.Render(m.TargetID))
	}
	if r.verbosity >= 2 && m.RunID != "" {
		fmt.Fprintf(r.output, "%s%s %s\n", gutter, labelStyle.Render("run:"), dimStyle.Render(m.RunID))
	}
}

func (r *Replayer) formatRun(run *deploy.Run) {
	fmt.Fprintf(r.output, "%s %s %s %s\n",
		deployStyle.Render(strings.ToUpper(run.Provider)),
		r.stateStyle(string(run.State)),
		timeStyle.Render(run.StartedAt.Format(time.RFC3339)),
		dimStyle.Render(shortID(run.ID)))
	if run.URL != "" {
		fmt.Fprintf(r.output, "  %s %s\n", labelStyle.Render("url:"), urlStyle.Render(run.URL))
	}
	if f := run.Failure; f != nil {
		fmt.Fprintf(r.output, "  %s %s %s\n", labelStyle.Render("failed at:"), errorStyle.Render(string(f.Stage)), dimStyle.Render(string(f.Code)))
		fmt.Fprintf(r.output, "  %s\n", errorStyle.Render(r.wrap(f.Reason, 2)))
	}
	if r.verbosity >= 1 {
		for _, tr := range run.Transitions {
			step := fmt.Sprintf("%s → %s", tr.From, tr.To)
			if tr.From == tr.To {
				step = string(tr.To) + " · " + tr.Note
			}
			fmt.Fprintf(r.output, "    %s %s\n", timeStyle.Render(tr.At.Format("15:04:05")), dimStyle.Render(step))
		}
	}
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(r.output, "  %s %s\n", labelStyle.Render("took:"),
			dimStyle.Render(run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) stateStyle(state string) string {
	switch deploy.State(state) {
	case deploy.StateLive:
		return successStyle.Render(state)
	case deploy.StateFailed:
		return errorStyle.Render(state)
	default:
		return warnStyle.Render(state)
	}
}

// printArgs prints tool arguments in key order.
func (r *Replayer) printArgs(args map[string]interface{}) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprintf("%v", args[k])
		if r.verbosity < 2 {
			v = truncateContent(v, 80)
		}
		fmt.Fprintf(r.output, "%s%s: %s\n", gutter, labelStyle.Render(k), v)
	}
}

func (r *Replayer) printError(msg string) {
	fmt.Fprintf(r.output, "%s%s\n", gutter, errorStyle.Render(r.wrap(msg, len([]rune(gutter)))))
}

// wrap word-wraps s to the configured width, indenting continuation
// lines by indent columns.
func (r *Replayer) wrap(s string, indent int) string {
	if r.width <= indent {
		return s
	}
	wrapped := wordwrap.String(s, r.width-indent)
	return strings.ReplaceAll(wrapped, "\n", "\n"+strings.Repeat(" ", indent))
}

// truncateContent shortens s to at most n cells, marking the cut.
func truncateContent(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return truncate.StringWithTail(s, uint(n), "...")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

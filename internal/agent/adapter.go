// Package agent connects an LLM tool-calling loop to the dispatcher.
package agent

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/shipper/internal/tools"
)

// defaultLimit is the concurrency used when none is configured: 4x CPU,
// clamped to [4, 32]. Tool calls are mostly I/O bound.
var defaultLimit = func() int {
	limit := runtime.NumCPU() * 4
	if limit < 4 {
		limit = 4
	}
	if limit > 32 {
		limit = 32
	}
	return limit
}()

// ToolUse is one tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string // wire or canonical name
	Input map[string]any
}

// ToolOutcome is what goes back to the model for one ToolUse.
type ToolOutcome struct {
	CallID  string
	Content string // JSON of Result
	IsError bool
	Result  tools.Result
}

// Definition is a tool as presented to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Adapter runs a model turn's tool calls for one session.
type Adapter struct {
	dispatcher *tools.Dispatcher
	session    string
	limit      int
	canonical  map[string]string // wire name -> tool name
}

// NewAdapter creates an adapter bound to session. limit bounds the
// number of calls of one turn running at once; zero picks a default.
func NewAdapter(d *tools.Dispatcher, session string, limit int) *Adapter {
	if limit <= 0 {
		limit = defaultLimit
	}
	a := &Adapter{dispatcher: d, session: session, limit: limit, canonical: map[string]string{}}
	for _, def := range d.Registry().Definitions() {
		a.canonical[WireName(def.Name)] = def.Name
	}
	return a
}

// Session returns the session this adapter acts in.
func (a *Adapter) Session() string {
	return a.session
}

// WireName maps a tool name to the model-facing charset.
func WireName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// ToolName maps a wire name back to the registered tool name. Names that
// are not wire names of a registered tool are returned unchanged.
func (a *Adapter) ToolName(wire string) string {
	if name, ok := a.canonical[wire]; ok {
		return name
	}
	return wire
}

// Definitions returns every registered tool with its wire name.
func (a *Adapter) Definitions() []Definition {
	defs := a.dispatcher.Registry().Definitions()
	out := make([]Definition, len(defs))
	for i, def := range defs {
		out[i] = Definition{
			Name:        WireName(def.Name),
			Description: def.Description,
			InputSchema: def.Schema.JSONSchema(),
		}
	}
	return out
}

// HandleTurn dispatches every use concurrently and returns outcomes in the
// order of uses. Each outcome carries the id of the use it answers, so
// correlation never depends on which call finishes first.
func (a *Adapter) HandleTurn(ctx context.Context, uses []ToolUse) []ToolOutcome {
	out := make([]ToolOutcome, len(uses))

	var g errgroup.Group
	g.SetLimit(a.limit)
	for i, use := range uses {
		i, use := i, use
		g.Go(func() error {
			res := a.dispatcher.Dispatch(ctx, tools.Call{
				ID:        use.ID,
				Name:      a.ToolName(use.Name),
				Session:   a.session,
				Arguments: use.Input,
			})
			out[i] = outcome(res)
			return nil
		})
	}
	g.Wait()
	return out
}

func outcome(res tools.Result) ToolOutcome {
	data, err := json.Marshal(res)
	if err != nil {
		data = []byte(`{"success":false,"error":{"kind":"INTERNAL","reason":"unencodable result"}}`)
	}
	return ToolOutcome{CallID: res.CallID, Content: string(data), IsError: !res.Success, Result: res}
}

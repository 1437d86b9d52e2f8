package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/logging"
	"github.com/vinayprograms/shipper/internal/session"
	"github.com/vinayprograms/shipper/internal/telemetry"
)

// Dispatcher validates and routes tool calls. It is safe for concurrent
// use; each call runs on the caller's goroutine.
type Dispatcher struct {
	registry *Registry
	logger   *logging.Logger
	journal  *session.Journal
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithJournal records every call and result in the session journal.
func WithJournal(j *session.Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// NewDispatcher creates a dispatcher over a sealed registry.
func NewDispatcher(reg *Registry, opts ...Option) (*Dispatcher, error) {
	if reg == nil || !reg.Sealed() {
		return nil, apperrors.New(apperrors.CodeInternal, "dispatcher requires a sealed registry")
	}
	d := &Dispatcher{registry: reg, logger: logging.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("dispatcher")
	return d, nil
}

// Registry returns the registry calls are routed through.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch executes call and always returns exactly one Result. Handler
// errors and panics become failure results; nothing is propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Result {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "tool."+call.Name,
		attribute.String("tool.name", call.Name),
		attribute.String("tool.session", call.Session),
		attribute.String("tool.call_id", call.ID),
	)
	metricInFlight.Inc()
	defer metricInFlight.Dec()

	d.logger.ToolDispatch(call.Name, call.Session, call.ID)
	d.record(call.Session, session.Event{
		Type:          session.EventToolCall,
		CorrelationID: call.ID,
		Tool:          call.Name,
		Args:          session.SanitizeArgs(call.Arguments),
	})

	payload, err := d.run(ctx, call)

	res := Result{
		CallID:     call.ID,
		Tool:       call.Name,
		Session:    call.Session,
		Success:    err == nil,
		Payload:    payload,
		DurationMs: time.Since(start).Milliseconds(),
	}
	kind, reason := "", ""
	if err != nil {
		res.Error = detailOf(err)
		kind, reason = string(res.Error.Kind), res.Error.Reason
	}

	d.logger.ToolResult(call.Name, call.Session, call.ID, time.Since(start), kind, reason)
	d.record(call.Session, session.Event{
		Type:          session.EventToolResult,
		CorrelationID: call.ID,
		Tool:          call.Name,
		Success:       session.Bool(res.Success),
		ErrorKind:     kind,
		Error:         reason,
		DurationMs:    res.DurationMs,
	})

	label := call.Name
	if _, ok := d.registry.Get(call.Name); !ok {
		label = "unknown"
	}
	recordCall(label, kind, time.Since(start))

	span.SetAttributes(attribute.Bool("tool.success", res.Success))
	telemetry.EndSpan(span, err)
	return res
}

func (d *Dispatcher) run(ctx context.Context, call Call) (map[string]any, error) {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeToolNotFound, "tool %q not found", call.Name)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := validate(tool.Schema(), args); err != nil {
		return nil, err
	}
	call.Arguments = args
	return d.invoke(ctx, tool, call)
}

// invoke runs the handler, converting a panic into an INTERNAL error.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, call Call) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", map[string]interface{}{
				"tool":    call.Name,
				"call_id": call.ID,
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			})
			payload = nil
			err = apperrors.Newf(apperrors.CodeInternal, "tool %s panicked: %v", call.Name, r)
		}
	}()
	return tool.Execute(ctx, call)
}

func (d *Dispatcher) record(sessionID string, evt session.Event) {
	if d.journal == nil {
		return
	}
	if _, err := d.journal.Append(sessionID, evt); err != nil {
		d.logger.Debug("journal write skipped", map[string]interface{}{
			"session": sessionID,
			"error":   err.Error(),
		})
	}
}

package agent

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/tools"
)

// sleepTool sleeps for args.ms milliseconds and echoes the session.
func sleepTool(running, peak *int32) tools.Tool {
	return &tools.Func{
		ToolName: "test.sleep",
		Desc:     "sleep",
		Params: tools.Schema{
			Version:    tools.SchemaVersion,
			Properties: map[string]tools.Property{"ms": {Type: tools.TypeInteger}},
			Required:   []string{"ms"},
		},
		Fn: func(ctx context.Context, call tools.Call) (map[string]any, error) {
			n := atomic.AddInt32(running, 1)
			defer atomic.AddInt32(running, -1)
			for {
				p := atomic.LoadInt32(peak)
				if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
					break
				}
			}
			ms := call.Arguments["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return map[string]any{"session": call.Session, "ms": ms}, nil
		},
	}
}

func newAdapter(t *testing.T, limit int, extra ...tools.Tool) (*Adapter, *int32) {
	t.Helper()
	var running, peak int32
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(sleepTool(&running, &peak)))
	for _, tool := range extra {
		require.NoError(t, reg.Register(tool))
	}
	require.NoError(t, reg.Seal())
	d, err := tools.NewDispatcher(reg)
	require.NoError(t, err)
	return NewAdapter(d, "s1", limit), &peak
}

func TestHandleTurnKeepsRequestOrder(t *testing.T) {
	a, _ := newAdapter(t, 8)

	// The first call finishes last.
	uses := []ToolUse{
		{ID: "slow", Name: "test_sleep", Input: map[string]any{"ms": float64(150)}},
		{ID: "mid", Name: "test_sleep", Input: map[string]any{"ms": float64(50)}},
		{ID: "fast", Name: "test.sleep", Input: map[string]any{"ms": float64(0)}},
	}
	out := a.HandleTurn(context.Background(), uses)

	require.Len(t, out, 3)
	for i, use := range uses {
		assert.Equal(t, use.ID, out[i].CallID)
		assert.False(t, out[i].IsError)

		var res tools.Result
		require.NoError(t, json.Unmarshal([]byte(out[i].Content), &res))
		assert.Equal(t, use.ID, res.CallID)
		assert.Equal(t, "s1", res.Payload["session"])
	}
}

func TestHandleTurnRunsConcurrentlyWithinLimit(t *testing.T) {
	a, peak := newAdapter(t, 2)

	uses := make([]ToolUse, 6)
	for i := range uses {
		uses[i] = ToolUse{ID: string(rune('a' + i)), Name: "test_sleep", Input: map[string]any{"ms": float64(50)}}
	}
	start := time.Now()
	a.HandleTurn(context.Background(), uses)

	assert.Equal(t, int32(2), atomic.LoadInt32(peak))
	assert.Less(t, time.Since(start), 280*time.Millisecond, "calls should overlap")
}

func TestHandleTurnReportsFailuresPerCall(t *testing.T) {
	a, _ := newAdapter(t, 4)

	out := a.HandleTurn(context.Background(), []ToolUse{
		{ID: "ok", Name: "test_sleep", Input: map[string]any{"ms": float64(0)}},
		{ID: "bad-args", Name: "test_sleep", Input: map[string]any{}},
		{ID: "unknown", Name: "nope_tool"},
	})

	assert.False(t, out[0].IsError)
	assert.True(t, out[1].IsError)
	assert.Equal(t, apperrors.CodeInvalidArguments, out[1].Result.Error.Kind)
	assert.True(t, out[2].IsError)
	assert.Equal(t, apperrors.CodeToolNotFound, out[2].Result.Error.Kind)
}

func TestWireNamesRoundTrip(t *testing.T) {
	a, _ := newAdapter(t, 1)

	defs := a.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "test_sleep", defs[0].Name)
	assert.Equal(t, "object", defs[0].InputSchema["type"])
	assert.Equal(t, "test.sleep", a.ToolName("test_sleep"))
	assert.Equal(t, "other_thing", a.ToolName("other_thing"))
	assert.Equal(t, "deploy_netlify", WireName("deploy.netlify"))
}

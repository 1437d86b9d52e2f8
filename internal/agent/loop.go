package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/logging"
)

// DefaultSystemPrompt frames the model as a build-and-deploy assistant.
const DefaultSystemPrompt = `You build small web projects and deploy them.
All file paths are relative to the session workspace. Write files with fs_write,
inspect them with fs_read, run build steps with run_command and publish with one
of the deploy_* tools. Report the live URL when a deployment succeeds.`

// LoopConfig configures a Loop.
type LoopConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxTurns   int
	System     string
	HTTPClient *http.Client
	// Options are appended to the client options.
	Options []option.RequestOption
}

// Transcript summarizes a finished conversation.
type Transcript struct {
	Text       string `json:"text"`
	Turns      int    `json:"turns"`
	ToolCalls  int    `json:"tool_calls"`
	StopReason string `json:"stop_reason"`
}

// Loop drives an Anthropic Messages conversation: the model asks for
// tools, the adapter runs them, the results go back, until the model ends
// its turn or MaxTurns is reached.
type Loop struct {
	client    anthropic.Client
	adapter   *Adapter
	model     string
	maxTokens int64
	maxTurns  int
	system    string
	logger    *logging.Logger

	// OnToolCall, when set, is called with each outcome as it is returned
	// to the model.
	OnToolCall func(use ToolUse, out ToolOutcome)
}

// NewLoop creates a loop using adapter for tool calls.
func NewLoop(cfg LoopConfig, adapter *Adapter, logger *logging.Logger) (*Loop, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.CodeMissingCredential, "no Anthropic API key configured").
			WithContext("missing", []string{"ANTHROPIC_API_KEY"})
	}
	if cfg.Model == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "agent model is not set")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 20
	}
	if cfg.System == "" {
		cfg.System = DefaultSystemPrompt
	}
	if logger == nil {
		logger = logging.Nop()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	opts = append(opts, cfg.Options...)

	return &Loop{
		client:    anthropic.NewClient(opts...),
		adapter:   adapter,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		maxTurns:  cfg.MaxTurns,
		system:    cfg.System,
		logger:    logger.WithComponent("agent"),
	}, nil
}

// Run sends prompt and keeps the conversation going until the model stops
// asking for tools.
func (l *Loop) Run(ctx context.Context, prompt string) (*Transcript, error) {
	tools := l.toolParams()
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}
	tr := &Transcript{}

	for tr.Turns < l.maxTurns {
		tr.Turns++
		start := time.Now()
		msg, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(l.model),
			MaxTokens: l.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: l.system}},
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return tr, fmt.Errorf("anthropic messages call failed: %w", err)
		}
		l.logger.Debug("model turn", map[string]interface{}{
			"turn":        tr.Turns,
			"stop_reason": string(msg.StopReason),
			"latency":     time.Since(start).String(),
			"tokens_in":   msg.Usage.InputTokens,
			"tokens_out":  msg.Usage.OutputTokens,
		})

		var text []string
		var uses []ToolUse
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				text = append(text, block.Text)
			case "tool_use":
				var input map[string]any
				if len(block.Input) > 0 {
					if err := json.Unmarshal(block.Input, &input); err != nil {
						input = map[string]any{}
					}
				}
				uses = append(uses, ToolUse{ID: block.ID, Name: block.Name, Input: input})
			}
		}
		if len(text) > 0 {
			tr.Text = strings.Join(text, "\n")
		}
		tr.StopReason = string(msg.StopReason)

		if len(uses) == 0 {
			return tr, nil
		}

		messages = append(messages, msg.ToParam())
		outcomes := l.adapter.HandleTurn(ctx, uses)
		results := make([]anthropic.ContentBlockParamUnion, len(outcomes))
		for i, out := range outcomes {
			results[i] = anthropic.NewToolResultBlock(out.CallID, out.Content, out.IsError)
			if l.OnToolCall != nil {
				l.OnToolCall(uses[i], out)
			}
		}
		tr.ToolCalls += len(uses)
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	tr.StopReason = "max_turns"
	l.logger.Warn("agent stopped at turn limit", map[string]interface{}{
		"max_turns": l.maxTurns,
		"session":   l.adapter.Session(),
	})
	return tr, nil
}

func (l *Loop) toolParams() []anthropic.ToolUnionParam {
	defs := l.adapter.Definitions()
	out := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		var required []string
		if r, ok := def.InputSchema["required"].([]string); ok {
			required = r
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: def.InputSchema["properties"],
					Required:   required,
				},
			},
		}
	}
	return out
}

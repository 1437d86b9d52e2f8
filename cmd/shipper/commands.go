package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/shipper/internal/agent"
	"github.com/vinayprograms/shipper/internal/credentials"
	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/license"
	"github.com/vinayprograms/shipper/internal/replay"
	"github.com/vinayprograms/shipper/internal/server"
	"github.com/vinayprograms/shipper/internal/tools"
)

// Run serves the tool API until interrupted.
func (c *ServeCmd) Run(g *Globals, ctx context.Context) error {
	app, err := newApp(g)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.unlock(ctx, nil); err != nil {
		return err
	}

	go func() {
		if err := app.creds.Watch(ctx); err != nil {
			app.logger.Warn("credential watch stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	addr := c.Addr
	if addr == "" {
		addr = app.cfg.Server.Addr
	}
	token := ""
	if app.cfg.Server.TokenEnv != "" {
		token = app.creds.Get(app.cfg.Server.TokenEnv)
	}
	srv := server.New(server.Config{
		Dispatcher: app.dispatcher,
		Deployer:   app.deployer,
		Token:      token,
		Parallel:   app.cfg.Agent.Parallel,
		Logger:     app.logger,
	})
	return srv.ListenAndServe(ctx, addr)
}

// Run drives the agent loop for the prompt.
func (c *AskCmd) Run(g *Globals, ctx context.Context) error {
	app, err := newApp(g)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.unlock(ctx, nil); err != nil {
		return err
	}

	key := app.creds.Get(app.cfg.Agent.APIKeyEnv)
	if key == "" {
		key = app.creds.Get(credentials.AnthropicAPIKey)
	}
	model := c.Model
	if model == "" {
		model = app.cfg.Agent.Model
	}
	adapter := agent.NewAdapter(app.dispatcher, c.Session, app.cfg.Agent.Parallel)
	loop, err := agent.NewLoop(agent.LoopConfig{
		APIKey:    key,
		BaseURL:   app.cfg.Agent.BaseURL,
		Model:     model,
		MaxTokens: app.cfg.Agent.MaxTokens,
		MaxTurns:  app.cfg.Agent.MaxTurns,
	}, adapter, app.logger)
	if err != nil {
		return err
	}
	if !c.Quiet {
		loop.OnToolCall = func(use agent.ToolUse, out agent.ToolOutcome) {
			status := "ok"
			if out.IsError {
				status = string(out.Result.Error.Kind)
			}
			fmt.Fprintf(os.Stderr, "→ %s %s (%dms)\n", adapter.ToolName(use.Name), status, out.Result.DurationMs)
		}
	}

	tr, err := loop.Run(ctx, c.Prompt)
	if err != nil {
		return err
	}
	fmt.Println(tr.Text)
	if tr.StopReason == "max_turns" {
		fmt.Fprintf(os.Stderr, "stopped after %d turns\n", tr.Turns)
	}
	return nil
}

// Run dispatches the call and prints its result as JSON.
func (c *CallCmd) Run(g *Globals, ctx context.Context) error {
	app, err := newApp(g)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.unlock(ctx, nil); err != nil {
		return err
	}

	res := app.dispatcher.Dispatch(ctx, tools.Call{
		ID:        c.ID,
		Name:      c.Tool,
		Session:   c.Session,
		Arguments: parseArgs(c.Arg),
	})
	if err := writeJSON(os.Stdout, res); err != nil {
		return err
	}
	if !res.Success {
		return apperrors.New(res.Error.Kind, res.Error.Reason)
	}
	return nil
}

// parseArgs decodes each value as JSON when it parses, else keeps the
// string, so --arg timeout_ms=500 is a number and --arg path=a.txt a string.
func parseArgs(raw map[string]string) map[string]any {
	args := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			args[k] = decoded
			continue
		}
		args[k] = v
	}
	return args
}

// Run deploys through the dispatcher so the call is journaled like any
// other tool call.
func (c *DeployCmd) Run(g *Globals, ctx context.Context) error {
	app, err := newApp(g)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.unlock(ctx, nil); err != nil {
		return err
	}

	res := app.dispatcher.Dispatch(ctx, tools.Call{
		Name:    "deploy." + c.Provider,
		Session: c.Session,
	})
	if !res.Success {
		if res.Payload != nil {
			writeJSON(os.Stderr, res.Payload)
		}
		return apperrors.New(res.Error.Kind, res.Error.Reason)
	}
	fmt.Println(res.Payload["url"])
	return nil
}

// Run renders history. Without a session it lists journaled sessions.
func (c *HistoryCmd) Run(g *Globals) error {
	app, err := newApp(g)
	if err != nil {
		return err
	}
	defer app.Close()

	if c.Session == "" {
		ids, err := app.journal.Sessions()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	r := replay.New(os.Stdout, c.Verbose)
	usePager := !c.NoPager && isTerminal(os.Stdout)

	if c.Runs {
		runs, err := app.deployer.History(c.Session)
		if err != nil {
			return err
		}
		if !usePager {
			return r.ReplayRuns(runs)
		}
		content, err := r.Render(func(r *replay.Replayer) error { return r.ReplayRuns(runs) })
		if err != nil {
			return err
		}
		return replay.NewPager("Runs: " + c.Session).Run(content)
	}

	if c.Follow && usePager {
		return r.ReplayLive(app.journal, c.Session)
	}
	events, err := app.journal.Load(c.Session)
	if err != nil {
		return err
	}
	if usePager {
		return r.ReplayInteractive(c.Session, events)
	}
	return r.Replay(c.Session, events)
}

// Run prints tool definitions. The registry is not sealed, so no license
// check is needed to inspect schemas.
func (c *ToolsCmd) Run(g *Globals) error {
	app, err := newApp(g)
	if err != nil {
		return err
	}
	defer app.Close()
	return exportTools(os.Stdout, app.registry.Definitions(), c.Format)
}

func exportTools(w io.Writer, defs []tools.Definition, format string) error {
	doc := map[string]any{"schema_version": tools.SchemaVersion, "tools": defs}
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	return writeJSON(w, doc)
}

// Run checks the key and, when valid, stores it in the credentials file.
func (c *ActivateCmd) Run(g *Globals, ctx context.Context) error {
	app, err := newApp(g)
	if err != nil {
		return err
	}
	defer app.Close()

	var entered string
	source := app.licenseKey(c.Key == "")
	if c.Key != "" {
		source = license.StaticKey(c.Key)
	}
	recording := func(ctx context.Context) (string, error) {
		k, err := source(ctx)
		entered = strings.TrimSpace(k)
		return k, err
	}
	if err := app.unlock(ctx, recording); err != nil {
		return err
	}
	if entered == "" {
		fmt.Println("license checks are disabled")
		return nil
	}
	path := credentialPath()
	if err := credentials.SaveLicenseKey(path, entered); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "save license key")
	}
	fmt.Printf("license activated, key saved to %s\n", path)
	return nil
}

// Run prints the version.
func (c *VersionCmd) Run() error {
	fmt.Printf("shipper version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import "github.com/alecthomas/kong"

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Config file path (default: ./shipper.toml)" type:"path"`
	LogLevel string `help:"Override logging.level (debug, info, warn, error)"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" help:"Serve tools over a local HTTP API"`
	Ask      AskCmd      `cmd:"" help:"Let the model build and deploy a project"`
	Call     CallCmd     `cmd:"" help:"Dispatch a single tool call"`
	Deploy   DeployCmd   `cmd:"" help:"Deploy a session workspace"`
	History  HistoryCmd  `cmd:"" help:"Show a session's tool calls and deployments"`
	Tools    ToolsCmd    `cmd:"" help:"Export tool schemas"`
	Activate ActivateCmd `cmd:"" help:"Check the license key"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// ServeCmd runs the HTTP tool server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides server.addr)"`
}

// AskCmd runs the agent loop for one prompt.
type AskCmd struct {
	Session string `short:"s" required:"" help:"Session id"`
	Prompt  string `arg:"" help:"What to build"`
	Model   string `help:"Model (overrides agent.model)"`
	Quiet   bool   `short:"q" help:"Only print the final answer"`
}

// CallCmd dispatches one tool call.
type CallCmd struct {
	Tool    string            `arg:"" help:"Tool name (e.g. fs.write)"`
	Session string            `short:"s" required:"" help:"Session id"`
	Arg     map[string]string `short:"a" help:"Argument key=value (repeatable); JSON values are decoded"`
	ID      string            `help:"Call id (generated if empty)"`
}

// DeployCmd deploys a session through one provider.
type DeployCmd struct {
	Provider string `arg:"" enum:"netlify,vercel,render" help:"Provider (netlify, vercel, render)"`
	Session  string `short:"s" required:"" help:"Session id"`
}

// HistoryCmd renders the session journal and persisted runs.
type HistoryCmd struct {
	Session string `short:"s" help:"Session id (lists sessions when empty)"`
	Verbose int    `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	Runs    bool   `help:"Show deployment runs instead of the timeline"`
	Follow  bool   `short:"f" help:"Follow the journal as it grows"`
	NoPager bool   `help:"Disable pager for output"`
}

// ToolsCmd exports tool definitions.
type ToolsCmd struct {
	Format string `short:"o" enum:"json,yaml" default:"json" help:"Output format (json, yaml)"`
}

// ActivateCmd runs the license gate once.
type ActivateCmd struct {
	Key string `help:"License key (prompted when not set)"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

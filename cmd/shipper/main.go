// Package main is the entry point for the shipper CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	apperrors "github.com/vinayprograms/shipper/internal/errors"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// .env is optional; credentials also read it directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("shipper"),
		kong.Description("Build and deploy sandboxed web projects through tool calls."),
		kong.UsageOnError(),
		kongVars(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error codes to process exit statuses.
func exitCode(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.CodeLicenseInvalid:
		return 3
	case apperrors.CodeConfigInvalid, apperrors.CodeInvalidArguments, apperrors.CodeInvalidSession:
		return 2
	}
	return 1
}

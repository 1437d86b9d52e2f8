package main

import (
	"context"
	"net/http"
	"os"

	"github.com/vinayprograms/shipper/internal/config"
	"github.com/vinayprograms/shipper/internal/credentials"
	"github.com/vinayprograms/shipper/internal/deploy"
	apperrors "github.com/vinayprograms/shipper/internal/errors"
	"github.com/vinayprograms/shipper/internal/events"
	"github.com/vinayprograms/shipper/internal/license"
	"github.com/vinayprograms/shipper/internal/logging"
	"github.com/vinayprograms/shipper/internal/packaging"
	"github.com/vinayprograms/shipper/internal/runner"
	"github.com/vinayprograms/shipper/internal/session"
	"github.com/vinayprograms/shipper/internal/telemetry"
	"github.com/vinayprograms/shipper/internal/tools"
	"github.com/vinayprograms/shipper/internal/workspace"
)

// App holds the wired components of one shipper process.
type App struct {
	cfg       *config.Config
	logger    *logging.Logger
	creds     *credentials.Store
	telemetry *telemetry.Provider
	publisher events.Publisher

	workspace *workspace.Manager
	runner    *runner.Runner
	deployer  *deploy.Deployer
	journal   *session.Journal
	registry  *tools.Registry

	dispatcher *tools.Dispatcher
}

// loadConfig reads --config or ./shipper.toml and applies global overrides.
func loadConfig(g *Globals) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.Config != "" {
		cfg, err = config.LoadFile(g.Config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.Format == string(logging.FormatJSON) {
		logger.SetFormat(logging.FormatJSON)
	}
	return logger
}

// credentialPath returns the credentials file to load and watch: the first
// existing standard path, else the per-user one.
func credentialPath() string {
	paths := credentials.StandardPaths()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return paths[len(paths)-1]
}

// newApp wires every component up to, but not including, the dispatcher.
// Call unlock to pass the license gate and seal the registry.
func newApp(g *Globals) (*App, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	a := &App{cfg: cfg, logger: logger, publisher: events.Nop{}}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.telemetry, err = telemetry.Setup(cfg.Telemetry.Enabled, cfg.Telemetry.Output, version); err != nil {
		return nil, err
	}
	if a.creds, err = credentials.NewStore(credentialPath(), ".env", logger); err != nil {
		return nil, err
	}
	if a.workspace, err = workspace.New(cfg.Workspace.ProjectsRoot); err != nil {
		return nil, err
	}
	a.runner = runner.New(a.workspace, runner.Options{
		Shell:          cfg.Commands.Shell,
		DefaultTimeout: cfg.CommandTimeout(),
		MaxOutputBytes: cfg.Commands.MaxOutputBytes,
	}, logger)

	packager, err := packaging.New(a.workspace, cfg.Workspace.ArtifactDir)
	if err != nil {
		return nil, err
	}
	store, err := deploy.NewStore(cfg.RunsDir())
	if err != nil {
		return nil, err
	}
	if a.journal, err = session.NewJournal(cfg.SessionsDir()); err != nil {
		return nil, err
	}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(events.NATSConfig{URL: cfg.Events.NATSURL, Subject: cfg.Events.Subject})
		if err != nil {
			return nil, err
		}
		a.publisher = pub
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}
	opts := []deploy.PipelineOption{
		deploy.WithStore(store),
		deploy.WithLogger(logger),
		deploy.WithObserver(a.journal.DeployObserver()),
		deploy.WithObserver(events.DeployObserver(a.publisher, logger)),
	}
	a.deployer = deploy.NewDeployer(store,
		deploy.NewPipeline(deploy.NewNetlify(cfg.Deploy.Netlify.APIURL, httpClient), packager, a.creds, opts...),
		deploy.NewPipeline(deploy.NewVercel(cfg.Deploy.Vercel.APIURL, httpClient), packager, a.creds, opts...),
		deploy.NewPipeline(deploy.NewRender(cfg.Deploy.Render.APIURL, httpClient), packager, a.creds, opts...),
	)

	a.registry = tools.NewRegistry()
	if err := tools.RegisterBuiltins(a.registry, tools.Deps{
		Workspace: a.workspace,
		Runner:    a.runner,
		Deployer:  a.deployer,
	}); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// unlock runs the license gate, then seals the registry and builds the
// dispatcher. Tools cannot be dispatched before it succeeds.
func (a *App) unlock(ctx context.Context, key license.KeySource) error {
	verifier, err := license.New(a.cfg.License.Provider, a.cfg.License.APIURL, a.cfg.License.ProductPermalink,
		&http.Client{Timeout: a.cfg.HTTPTimeout()})
	if err != nil {
		return err
	}
	if key == nil {
		key = a.licenseKey(false)
	}
	if err := license.NewGate(verifier, key, a.logger).Check(ctx); err != nil {
		return err
	}

	if err := a.registry.Seal(tools.FixedToolSet...); err != nil {
		return err
	}
	a.dispatcher, err = tools.NewDispatcher(a.registry,
		tools.WithLogger(a.logger),
		tools.WithJournal(a.journal),
	)
	return err
}

// licenseKey reads the key from credentials, prompting on a terminal when
// it is missing or when force is set.
func (a *App) licenseKey(force bool) license.KeySource {
	return func(ctx context.Context) (string, error) {
		if !force {
			if k := a.creds.Current().LicenseKey(a.cfg.License.KeyEnv); k != "" {
				return k, nil
			}
		}
		if !isTerminal(os.Stdin) {
			return "", apperrors.Newf(apperrors.CodeLicenseInvalid, "no license key: set %s or run shipper activate", a.cfg.License.KeyEnv)
		}
		return promptLicenseKey(ctx)
	}
}

// Close releases the publisher and flushes spans.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("event publisher close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// isTerminal reports whether f is a character device.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

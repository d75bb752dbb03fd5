package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/haukened/dper/internal/dper/common/clock"
	"github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/config"
	"github.com/haukened/dper/internal/dper/gateways/command"
	"github.com/haukened/dper/internal/dper/gateways/fetch"
	"github.com/haukened/dper/internal/dper/repos/descriptor"
	"github.com/haukened/dper/internal/dper/repos/journal"
	"github.com/haukened/dper/internal/dper/services/pipeline"
	"github.com/haukened/dper/internal/dper/services/publish"
	"github.com/haukened/dper/internal/dper/services/reload"
	"github.com/haukened/dper/internal/dper/services/render"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "dper"

	// Default timeouts
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// cliOptions are the command line switches.
type cliOptions struct {
	configPath string
	offline    bool
	force      bool
	debug      bool
	status     bool
}

// Application holds the wired components of one run
type Application struct {
	pipeline *pipeline.Pipeline
	journal  *journal.Store
}

func main() {
	// Cancel the run on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	level := "info"
	if opts.debug {
		level = "debug"
	}
	if err := log.Configure(opts.debug, level); err != nil {
		fmt.Fprintf(stderr, "Logging configuration error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n", opts.configPath)
		for _, e := range multierr.Errors(err) {
			fmt.Fprintf(stderr, "  %v\n", e)
		}
		return 1
	}

	if opts.status {
		return printStatus(cfg, stdout, stderr)
	}

	log.Info(map[string]any{
		"version":       version,
		"config":        opts.configPath,
		"output_format": cfg.OutputFormat,
		"output_file":   cfg.OutputFile,
		"peers":         len(cfg.Peers),
		"offline":       opts.offline,
		"force":         opts.force,
	}, "Starting DPER run")

	app, err := buildApplication(cfg, stdout)
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Failed to build application")
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error closing journal")
		}
	}()

	res, err := app.pipeline.Run(ctx, pipeline.RunOptions{Offline: opts.offline, Force: opts.force})
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Run failed")
		return 1
	}

	log.Info(map[string]any{
		"peers":   res.Peers,
		"zones":   res.Zones,
		"changed": res.Changed,
	}, "Run complete")
	return 0
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", config.DefaultPath, "configuration file")
	fs.BoolVar(&opts.offline, "offline", false, "offline (force cache)")
	fs.BoolVar(&opts.force, "force", false, "force update")
	fs.BoolVar(&opts.debug, "debug", false, "enable debugging")
	fs.BoolVar(&opts.status, "status", false, "print the state journal and exit")
	err := fs.Parse(args)
	return opts, err
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.StaticConfig, stdout io.Writer) (*Application, error) {
	logger := log.GetLogger()
	runner := command.NewExecRunner()

	var diffOutput io.Writer
	if cfg.OutputDiff {
		diffOutput = stdout
	}

	opts := pipeline.Options{
		Sources: cfg.Sources(),
		Fetcher: fetch.NewGateway(fetch.Options{
			ConnectTimeout: defaultConnectTimeout,
			ReadTimeout:    defaultReadTimeout,
			Logger:         logger,
		}),
		Parser: descriptor.NewParser(logger),
		Renderer: render.New(cfg.Dialect(), render.Options{
			Zonefiles: cfg.Zonefiles,
			Template:  cfg.Template,
			ACL:       cfg.ACL,
		}),
		Publisher: publish.New(publish.Options{
			Path:       cfg.OutputFile,
			Differ:     command.NewDiffer(runner),
			Logger:     logger,
			DiffOutput: diffOutput,
		}),
		Logger: logger,
	}

	// interfaces stay nil when the optional collaborators are not configured
	if cfg.ReconfigureCommand != "" {
		opts.Reloader = reload.New(reload.Options{
			Command: cfg.ReconfigureCommand,
			Runner:  runner,
			Logger:  logger,
		})
	}

	app := &Application{}
	if cfg.StateDB != "" {
		store, err := journal.Open(cfg.StateDB, clock.RealClock{})
		if err != nil {
			return nil, fmt.Errorf("failed to open state journal: %w", err)
		}
		opts.Journal = store
		app.journal = store
		log.Debug(map[string]any{"state_db": cfg.StateDB}, "State journal opened")
	}

	if cfg.CacheDir != "" {
		log.Debug(map[string]any{"cache_dir": cfg.CacheDir}, "Payload cache enabled")
	}

	app.pipeline = pipeline.NewPipeline(opts)
	return app, nil
}

// Close releases the journal, if one is open.
func (app *Application) Close() error {
	if app.journal == nil {
		return nil
	}
	return app.journal.Close()
}

// printStatus writes the journal contents as a table.
func printStatus(cfg *config.StaticConfig, stdout, stderr io.Writer) int {
	if cfg.StateDB == "" {
		fmt.Fprintln(stderr, "No state_db configured")
		return 1
	}
	store, err := journal.Open(cfg.StateDB, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Journal error: %v\n", err)
		return 1
	}
	defer store.Close()

	fetches, err := store.Fetches()
	if err != nil {
		fmt.Fprintf(stderr, "Journal error: %v\n", err)
		return 1
	}
	last, published, err := store.LastPublish()
	if err != nil {
		fmt.Fprintf(stderr, "Journal error: %v\n", err)
		return 1
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tFETCHED\tSTATUS\tCACHE\tBYTES\tPEERS")
	for _, f := range fetches {
		status := "-"
		if f.Status != 0 {
			status = fmt.Sprint(f.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\n", f.PeerID, f.At.Format(time.RFC3339), status, f.FromCache, f.Bytes, f.Peers)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "Output error: %v\n", err)
		return 1
	}

	if published {
		fmt.Fprintf(stdout, "\nLast publish %s: %s changed=%t forced=%t peers=%d zones=%d\n",
			last.At.Format(time.RFC3339), last.Path, last.Changed, last.Forced, last.Peers, last.Zones)
	} else {
		fmt.Fprintln(stdout, "\nNo publish recorded")
	}
	return 0
}

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowrunner/flows"
	"flowrunner/internal/config"
	"flowrunner/internal/logging"
	"flowrunner/internal/store"
	"flowrunner/internal/tracing"
)

const serviceName = "flowrunner"

// Version is stamped at build time.
var Version = "dev"

// app carries what every command needs once the root command has loaded configuration.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	// newBackend and clock are replaced in tests.
	newBackend func(ctx context.Context) (backend, error)
	clock      flows.Clock

	store *store.Store

	backendName  string
	logLevel     string
	outputURL    string
	traceFile    string
	region       string
	pollInterval time.Duration
	timeout      time.Duration
}

func newApp() *app {
	a := &app{}
	a.newBackend = a.defaultBackend
	return a
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowrunner",
		Short: "Deploy and run transfer-and-share flows on a hosted workflow service",
		Long: `flowrunner drives a hosted workflow service through the transfer-and-share
tutorial: log in, register a flow definition, submit a run, wait for it to
finish, then print the access rule it created and a link to the shared data.

Backends:
  - globus: Globus Flows, Transfer and Auth
  - stepfunctions: AWS Step Functions (definitions must be Amazon States Language)`,
		SilenceUsage:  true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return tracing.Shutdown(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.backendName, "backend", "", "workflow backend: globus or stepfunctions (FLOWRUNNER_BACKEND)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (FLOWRUNNER_LOG_LEVEL)")
	flags.StringVar(&a.outputURL, "output-url", "", "where runs, flows and credentials are kept (FLOWRUNNER_OUTPUT_URL)")
	flags.StringVar(&a.traceFile, "trace-file", "", "write OpenTelemetry spans to this file, - for stdout (FLOWRUNNER_TRACE_FILE)")
	flags.StringVar(&a.region, "region", "", "AWS region for the stepfunctions backend (AWS_REGION)")
	flags.DurationVar(&a.pollInterval, "poll-interval", 0, "time between status polls (FLOWRUNNER_POLL_INTERVAL_SECONDS)")
	flags.DurationVar(&a.timeout, "timeout", 0, "give up waiting for a run after this long, 0 to wait forever (FLOWRUNNER_TIMEOUT_SECONDS)")

	rootCmd.AddCommand(
		newLoginCmd(a),
		newWhoamiCmd(a),
		newDeployCmd(a),
		newRunCmd(a),
		newStatusCmd(a),
		newLogCmd(a),
		newRunsCmd(a),
		newCancelCmd(a),
		newCleanupCmd(a),
		newStateMachinesCmd(a),
	)
	return rootCmd
}

// setup loads configuration from the environment and applies flag overrides.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = a.backendName
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("output-url") {
		cfg.OutputURL = a.outputURL
	}
	if flags.Changed("trace-file") {
		cfg.TraceFile = a.traceFile
	}
	if flags.Changed("region") {
		cfg.AWSRegion = a.region
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = a.pollInterval
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.in = cmd.InOrStdin()
	a.out = cmd.OutOrStdout()
	a.logger = logging.NewWithWriter(cfg.LogLevel, cmd.ErrOrStderr())
	return tracing.Init(serviceName, Version, cfg.TraceFile)
}

// openStore returns the results store, creating it on first use.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.New(ctx, a.cfg.OutputURL)
	if err != nil {
		return nil, err
	}
	a.store = st
	return st, nil
}

func (a *app) runner(service flows.Service) *flows.Runner {
	opts := []flows.Option{flows.WithLogger(a.logger), flows.WithTimeout(a.cfg.Timeout)}
	if a.clock != nil {
		opts = append(opts, flows.WithClock(a.clock))
	}
	return flows.NewRunner(service, opts...)
}

// Execute adds all child commands to the root command and runs it. Interrupts cancel the
// command context so polling stops promptly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(newApp()).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

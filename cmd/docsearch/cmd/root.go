// Package cmd provides the CLI commands for docsearch.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/catalog"
	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/logging"
	"github.com/Aman-CERP/docsearch/internal/profiling"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
	"github.com/Aman-CERP/docsearch/pkg/version"
)

// app carries state shared by every subcommand of one root command.
type app struct {
	configPath  string
	debug       bool
	catalogPath string
	metricsFile string
	profile     profiling.Config

	logger         *slog.Logger
	loggingCleanup func()
	registry       *prometheus.Registry
	metrics        *telemetry.Metrics
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the docsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "docsearch",
		Short: "Local document search with grep, BM25 and embedding backends",
		Long: `docsearch chunks markdown and text documents by heading and builds
grep, BM25 keyword and dense vector indexes over the chunks.

Searches run against one backend or blend keyword and vector scores.

  docsearch build docs/ --out .docsearch/index
  docsearch search "connection pooling" --index .docsearch/index`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.writeMetrics()
		},
	}

	cmd.SetVersionTemplate("docsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML options file (DOCSEARCH_* env vars override it)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.docsearch/logs/")
	cmd.PersistentFlags().StringVar(&a.catalogPath, "catalog", catalog.DefaultPath(), "Index catalog database (empty disables the catalog)")
	cmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file on exit")
	cmd.PersistentFlags().StringVar(&a.profile.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&a.profile.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&a.profile.Trace, "profile-trace", "", "Write an execution trace to this file")

	cmd.AddCommand(newBuildCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newInfoCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd, a
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, a := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	a.close()
	if err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), errors.FormatForCLI(err))
	}
	return err
}

// setup configures logging and metrics before any subcommand runs.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if a.debug {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger = logger
	a.loggingCleanup = cleanup
	slog.SetDefault(logger)
	if a.debug {
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Short()))
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = telemetry.NewMetrics(a.registry)

	if a.profile.Enabled() {
		session, err := profiling.Start(a.profile)
		if err != nil {
			return err
		}
		a.profiler = session
		logger.Debug("profiling_started",
			slog.String("cpu", a.profile.CPU),
			slog.String("heap", a.profile.Heap),
			slog.String("trace", a.profile.Trace))
	}
	return nil
}

// writeMetrics writes the text exposition when --metrics-file is set.
func (a *app) writeMetrics() error {
	if a.metricsFile == "" || a.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to write metrics file", err).
			WithDetail("path", a.metricsFile)
	}
	return nil
}

// close stops profiling and releases shared embedders and the log file.
func (a *app) close() {
	if a.profiler != nil {
		if err := a.profiler.Stop(); err != nil && a.logger != nil {
			a.logger.Warn("Failed to write profiles", slog.String("error", err.Error()))
		}
		a.profiler = nil
	}
	if err := embed.CloseShared(); err != nil && a.logger != nil {
		a.logger.Warn("Failed to close embedding models", slog.String("error", err.Error()))
	}
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
}

// options loads the configuration named by --config.
func (a *app) options() (config.Options, error) {
	return config.Load(a.configPath)
}

// openCatalog opens the catalog, or returns nil when it is disabled.
func (a *app) openCatalog() (*catalog.Catalog, error) {
	if a.catalogPath == "" {
		return nil, nil
	}
	return catalog.Open(a.catalogPath)
}

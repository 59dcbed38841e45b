// Package cmd implements the reactbench CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/deepprinciple/reactbench/internal/config"
	"github.com/deepprinciple/reactbench/internal/observability"
)

// AppIdentity carries the resolved application naming used in banners
// and diagnostics.
type AppIdentity struct {
	AppName    string
	BinaryName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the resolved identity, or nil before init.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build-time version metadata. Called from main
// with ldflags-injected values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagLogLevel string

	// appConfig is the resolved process config, populated by the root
	// PersistentPreRun before any subcommand runs.
	appConfig *appconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "reactbench",
	Short: "Benchmark reaction-path discovery with pluggable calculators",
	Long: `reactbench drives batches of candidate reactions through path growth
and transition-state refinement, fanned across a bounded worker pool
with per-job checkpoint/restart.

Batch parameters come from a YAML manifest; process-level settings come
from REACTBENCH_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if flagLogLevel != "" {
			overrides["logging.level"] = flagLogLevel
		}
		cfg, err := appconfig.Load(cmd.Context(), overrides)
		if err != nil {
			return err
		}
		appConfig = cfg
		observability.Init(cfg.Logging.Level)
		appIdentity = &AppIdentity{AppName: "ReactBench", BinaryName: "reactbench"}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

// exitCodeError carries a process exit code through the cobra error
// path to Execute.
type exitCodeError struct {
	code int
	msg  string
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the
// given code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, msg: message, err: err}
}

// Execute runs the CLI and exits the process with the appropriate
// code. SIGINT/SIGTERM cancel the command context so in-flight jobs
// stop at their next boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)",
		versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

	err := rootCmd.ExecuteContext(ctx)
	observability.Sync()
	if err == nil {
		return
	}

	var coded *exitCodeError
	if errors.As(err, &coded) {
		observability.CLILogger.Error(coded.msg, zap.Error(coded.err))
		observability.Sync()
		os.Exit(coded.code)
	}
	observability.CLILogger.Error("command failed", zap.Error(err))
	observability.Sync()
	os.Exit(1)
}

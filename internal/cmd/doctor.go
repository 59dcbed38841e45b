package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/deepprinciple/reactbench/internal/config"
	"github.com/deepprinciple/reactbench/internal/observability"
	"github.com/deepprinciple/reactbench/pkg/calculator"
	"github.com/deepprinciple/reactbench/pkg/manifest"
)

var (
	doctorJobPath string
	doctorScratch string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and suggest fixes for
common issues.

Examples:
  reactbench doctor                     # Environment checks
  reactbench doctor --job batch.yaml    # Also validate a manifest and its executables`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVarP(&doctorJobPath, "job", "j", "", "Also validate this batch manifest")
	doctorCmd.Flags().StringVar(&doctorScratch, "scratch", manifest.DefaultScratch, "Scratch root to probe for writability")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("Running diagnostic checks...")

	allChecks := true
	checkNum := 1
	totalChecks := 4
	if doctorJobPath != "" {
		totalChecks = 6
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ok %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Calculator registry
	backends := calculator.Available()
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking calculator registry... ok %d backends (%s)",
		checkNum, totalChecks, len(backends), strings.Join(backends, ", ")))
	checkNum++

	// Check 3: Scratch root writability
	if err := probeScratch(doctorScratch); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking scratch root... cannot write %s", checkNum, totalChecks, doctorScratch),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking scratch root... ok %s", checkNum, totalChecks, doctorScratch))
	}
	checkNum++

	// Check 4: Environment
	installRoot := os.Getenv(appconfig.EnvPrefix + "_PATH")
	if installRoot == "" {
		installRoot = "(unset)"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ok %s/%s, %s_PATH=%s",
		checkNum, totalChecks, runtime.GOOS, runtime.GOARCH, appconfig.EnvPrefix, installRoot))
	checkNum++

	// Manifest-specific checks
	if doctorJobPath != "" {
		allChecks = runManifestChecks(checkNum, totalChecks, allChecks)
	}

	if allChecks {
		observability.CLILogger.Info("All checks passed")
		return nil
	}
	return exitError(1, "Some checks failed", nil)
}

// probeScratch verifies the scratch root can be created and written.
// The probe file is removed; an empty directory may be left behind.
func probeScratch(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(root, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok\n"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func runManifestChecks(checkNum, totalChecks int, allChecks bool) bool {
	m, err := manifest.Load(doctorJobPath)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking manifest... invalid %s", checkNum, totalChecks, doctorJobPath),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking manifest... ok calc=%s device=%s nprocs=%d",
		checkNum, totalChecks, m.Calc, m.Device, m.NProcs))
	checkNum++

	// Stage executables
	var missing []string
	for _, exe := range []struct{ name, path string }{
		{"tsopt", m.Refine.TSOptPath},
		{"irc", m.Refine.IRCPath},
		{"runner", m.RunnerPath},
	} {
		if exe.path == "" {
			continue
		}
		if info, err := os.Stat(exe.path); err != nil || info.IsDir() {
			missing = append(missing, fmt.Sprintf("%s=%s", exe.name, exe.path))
		}
	}
	if len(missing) > 0 {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking stage executables... missing %s",
			checkNum, totalChecks, strings.Join(missing, ", ")))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking stage executables... ok", checkNum, totalChecks))
	return allChecks
}

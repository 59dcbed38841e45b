// Package observability wires structured logging for the CLI.
//
// CLILogger writes human-oriented console output to stderr so that
// report/JSONL output on stdout stays machine-parseable.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for command code.
//
// It defaults to info level; call Init early in command setup to apply
// the configured level.
var CLILogger = newCLILogger(zapcore.InfoLevel)

// Init reconfigures CLILogger with the given level string.
//
// Unknown levels fall back to info rather than failing: logging config
// must never abort a batch.
func Init(level string) {
	CLILogger = newCLILogger(parseLevel(level))
}

// Sync flushes any buffered log entries. Safe to call on exit paths.
func Sync() {
	_ = CLILogger.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newCLILogger(level zapcore.Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

package logs

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/smithy-go/logging"
	"github.com/lmittmann/tint"
)

// Level maps a repeated --debug count onto a slog level. Zero keeps the
// process quiet apart from warnings; one shows progress; two and up shows
// debug detail plus SDK wire logs.
func Level(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Init installs the process default logger: structured JSON records on
// standard error at the level implied by verbosity.
func Init(verbosity int) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: Level(verbosity),
	})
	slog.SetDefault(slog.New(handler))
}

// ConsoleLogger returns a human-readable logger for interactive debugging
// sessions on a terminal.
func ConsoleLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// SDKLogger bridges the AWS SDK's logging interface onto slog so that
// request/retry wire logs land in the same stream as everything else.
func SDKLogger() logging.Logger {
	return logging.LoggerFunc(func(classification logging.Classification, format string, v ...interface{}) {
		msg := fmt.Sprintf(format, v...)
		switch classification {
		case logging.Warn:
			slog.Warn(msg)
		default:
			slog.Debug(msg)
		}
	})
}

package logging

import (
	"log/slog"
	"os"
)

// SetupJSON sets slog's default logger to JSON output at the given level.
// Every binary calls this right after loading config so startup errors
// are already structured.
func SetupJSON(level slog.Level) {
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	)
	slog.SetDefault(logger)
}

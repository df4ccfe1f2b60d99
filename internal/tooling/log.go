package tooling

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// OpenLog builds the operation logger: human-readable console output plus a
// persistent ops.log inside the project root, so every failure survives the
// session. Close the returned file when the operation set is done.
func OpenLog(projectRoot string, verbose bool) (zerolog.Logger, *os.File, error) {
	logPath := filepath.Join(projectRoot, "ops.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open operation log: %w", err)
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(io.MultiWriter(console, f)).
		Level(level).
		With().Timestamp().Logger()
	return logger, f, nil
}

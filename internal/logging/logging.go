// Package logging wires nxfs's structured logging: a log/slog logger
// backed by hermannm.dev/devlog's human-readable handler, matching how
// kgiusti-go-fdo-server/cmd/root.go sets up its default logger.
package logging

import (
	"io"
	"log/slog"

	"hermannm.dev/devlog"
)

// Level is shared between cmd/nxfs's --debug flag and the handler so
// verbosity can be changed after Init without rebuilding the logger.
var Level slog.LevelVar

// Init installs a devlog-backed slog.Logger as the package default,
// writing human-readable lines to w. The library packages do not log:
// pkg/keys returns tolerated malformed lines as Warning values, and
// cmd/nxfs logs them through slog.Default().
func Init(w io.Writer, debug bool) {
	if debug {
		Level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(devlog.NewHandler(w, &devlog.Options{
		Level: &Level,
	})))
}

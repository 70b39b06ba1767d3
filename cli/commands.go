package cli

import (
	"io"
	"log/slog"

	"github.com/robinvdvleuten/flowcast/logging"
)

var (
	Version   = ""
	CommitSHA = ""
)

// Globals defines global flags available to all commands.
type Globals struct {
	Telemetry bool   `help:"Show timing telemetry for operations."`
	LogLevel  string `help:"Log level (${enum})." enum:"debug,info,warn,error" default:"warn"`
}

// Logger returns the diagnostics logger configured by --log-level.
func (g *Globals) Logger(w io.Writer) *slog.Logger {
	return logging.NewLogger(g.LogLevel, w)
}

type Commands struct {
	Globals

	Simulate SimulateCmd `cmd:"" help:"Project a scenario file month by month."`
	Check    CheckCmd    `cmd:"" help:"Load and validate a scenario file."`
	Format   FormatCmd   `cmd:"" name:"fmt" help:"Rewrite a scenario file in canonical form."`
	Doctor   DoctorCmd   `cmd:"" help:"Doctor utilities for debugging scenario files."`
	Web      WebCmd      `cmd:"" help:"Start the graph editor web server."`
}

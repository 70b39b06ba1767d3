package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/robinvdvleuten/flowcast/scenario"
	"github.com/robinvdvleuten/flowcast/web"
)

type WebCmd struct {
	File     string `help:"Scenario file to serve." arg:""`
	Port     int    `help:"Port to listen on." default:"8080"`
	Create   bool   `help:"Automatically create the file with a starter scenario if it doesn't exist (no confirmation prompt)." short:"c"`
	ReadOnly bool   `help:"Enable read-only mode (no write operations allowed)." short:"r"`
	Watch    bool   `help:"Reload the scenario when it changes on disk." default:"true" negatable:""`
}

func (cmd *WebCmd) Run(ctx *kong.Context, globals *Globals) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, reportTelemetry := startTelemetry(runCtx, globals.Telemetry, ctx.Stderr, "web")
	defer reportTelemetry()

	scenarioFile, err := filepath.Abs(cmd.File)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if err := ensureScenarioFile(ctx.Stdout, scenarioFile, cmd.Create, promptYesNo); err != nil {
		return err
	}

	version := Version
	if version == "" {
		version = "dev"
	}
	commitSHA := CommitSHA
	if commitSHA == "" {
		commitSHA = "local"
	}

	server := web.New(cmd.Port, scenarioFile,
		web.WithVersion(version, commitSHA),
		web.WithReadOnly(cmd.ReadOnly),
		web.WithWatch(cmd.Watch),
		web.WithLogger(globals.Logger(ctx.Stderr)),
	)

	printInfof(ctx.Stdout, "Starting server on %s:%d", server.Host, cmd.Port)
	printInfof(ctx.Stdout, "Serving scenario: %s", pathStyle.Render(scenarioFile))

	if cmd.ReadOnly {
		printInfof(ctx.Stdout, "Server running in READ-ONLY mode")
	}

	return server.Start(runCtx)
}

// ensureScenarioFile creates a missing scenario file with the starter
// scenario, asking first unless create is set.
func ensureScenarioFile(w io.Writer, path string, create bool, confirm func(string) (bool, error)) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to access file: %w", err)
	}

	if !create {
		confirmed, err := confirm(fmt.Sprintf("File %q does not exist. Create it?", path))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		create = confirmed
	}

	if !create {
		return fmt.Errorf("file does not exist: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if err := os.WriteFile(path, scenario.Starter(), 0600); err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	printInfof(w, "Created starter scenario: %s", pathStyle.Render(path))
	return nil
}

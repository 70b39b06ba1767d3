package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

type FormatCmd struct {
	File  FileOrStdin `help:"Scenario filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
	Write bool        `help:"Write the result back to the file instead of stdout." short:"w"`
}

// Run rewrites a scenario in canonical form. Comments are not preserved
// and defaults such as the horizon are written out.
func (cmd *FormatCmd) Run(ctx *kong.Context, globals *Globals) error {
	if err := cmd.File.EnsureContents(); err != nil {
		return err
	}

	if cmd.Write && cmd.File.Filename == "<stdin>" {
		return fmt.Errorf("--write cannot be used when reading from stdin")
	}

	runCtx, reportTelemetry := startTelemetry(context.Background(), globals.Telemetry, ctx.Stderr, fmt.Sprintf("fmt %s", cmd.File.label()))
	defer reportTelemetry()

	source, err := cmd.File.GetSourceContent()
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// Includes stay as directives so every file is formatted on its own.
	sc, err := loadScenario(runCtx, ctx.Stderr, &cmd.File, source)
	if err != nil {
		return err
	}

	out, err := sc.Marshal()
	if err != nil {
		return err
	}

	if !cmd.Write {
		_, err = ctx.Stdout.Write(out)
		return err
	}

	info, err := os.Stat(cmd.File.Filename)
	if err != nil {
		return fmt.Errorf("failed to access file: %w", err)
	}
	if err := os.WriteFile(cmd.File.Filename, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	printSuccess(ctx.Stdout, fmt.Sprintf("Formatted %s", pathStyle.Render(cmd.File.Filename)))
	return nil
}

package cli

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"

	"github.com/alecthomas/kong"

	"github.com/robinvdvleuten/flowcast/errors"
	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/scenario"
)

type CheckCmd struct {
	File   FileOrStdin `help:"Scenario filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
	Strict bool        `help:"Treat warnings as errors."`
	Format string      `help:"Output format (${enum})." enum:"text,json" default:"text" short:"f"`
}

func (cmd *CheckCmd) Run(ctx *kong.Context, globals *Globals) error {
	if err := cmd.File.EnsureContents(); err != nil {
		return err
	}

	runCtx, reportTelemetry := startTelemetry(context.Background(), globals.Telemetry, ctx.Stderr, fmt.Sprintf("check %s", cmd.File.label()))
	defer reportTelemetry()

	if cmd.Format == "json" {
		return cmd.runJSON(runCtx, ctx.Stdout)
	}

	source, err := cmd.File.GetSourceContent()
	if err != nil {
		return fmt.Errorf("failed to read file for error context: %w", err)
	}

	sc, err := loadScenario(runCtx, ctx.Stderr, &cmd.File, source, scenario.WithFollowIncludes())
	if err != nil {
		return err
	}

	nodes, rules := sc.Snapshot()
	warnings, err := reportIssues(ctx.Stderr, graph.Validate(nodes, rules), cmd.Strict)
	if err != nil {
		return err
	}

	if warnings > 0 {
		printSuccess(ctx.Stdout, fmt.Sprintf("Check passed with %d warning(s)", warnings))
		return nil
	}
	printSuccess(ctx.Stdout, "Check passed")

	return nil
}

// runJSON prints parse errors and validation issues as a JSON array.
func (cmd *CheckCmd) runJSON(ctx context.Context, w io.Writer) error {
	var errs []error
	failed := false

	sc, err := cmd.File.LoadScenario(ctx, scenario.New(scenario.WithFollowIncludes()))
	if err != nil {
		errs = append(errs, err)
		failed = true
	} else {
		nodes, rules := sc.Snapshot()
		if err := graph.Validate(nodes, rules); err != nil {
			errs = append(errs, err)
			failed = blocking(err, cmd.Strict)
		}
	}

	_, _ = fmt.Fprintln(w, errors.NewJSONFormatter().FormatAll(errs))

	if failed {
		return NewCommandError(1)
	}
	return nil
}

// loadScenario loads a scenario and renders parse errors to w. The returned
// error is a CommandError once the failure has been reported.
func loadScenario(ctx context.Context, w io.Writer, file *FileOrStdin, source []byte, opts ...scenario.Option) (*scenario.Scenario, error) {
	sc, err := file.LoadScenario(ctx, scenario.New(opts...))
	if err != nil {
		_, _ = fmt.Fprintln(w, NewErrorRenderer(source).Render(err))
		_, _ = fmt.Fprintln(w)

		var parseErr *scenario.ParseError
		if stdErrors.As(err, &parseErr) {
			printError(w, "parse error")
		} else {
			printError(w, "failed to load scenario")
		}
		return nil, NewCommandError(1)
	}
	return sc, nil
}

// reportIssues prints validation issues and a summary to w. It returns the
// number of warnings, and a CommandError when the issues should stop the
// command.
func reportIssues(w io.Writer, err error, strict bool) (int, error) {
	if err == nil {
		return 0, nil
	}

	var verr *graph.ValidationErrors
	if !stdErrors.As(err, &verr) {
		return 0, err
	}

	_, _ = fmt.Fprintln(w, NewErrorRenderer(nil).RenderAll(verr.Errors))
	_, _ = fmt.Fprintln(w)

	errorCount := verr.Count(graph.SeverityError)
	warningCount := verr.Count(graph.SeverityWarning)

	if blocking(err, strict) {
		printError(w, fmt.Sprintf("%d error(s), %d warning(s) found", errorCount, warningCount))
		return warningCount, NewCommandError(1)
	}

	printWarning(w, fmt.Sprintf("%d warning(s) found", warningCount))
	return warningCount, nil
}

// blocking reports whether validation issues should fail a command.
func blocking(err error, strict bool) bool {
	var verr *graph.ValidationErrors
	if !stdErrors.As(err, &verr) {
		return err != nil
	}
	return verr.HasErrors() || (strict && verr.Count(graph.SeverityWarning) > 0)
}

package cli

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/output"
	"github.com/robinvdvleuten/flowcast/report"
	"github.com/robinvdvleuten/flowcast/scenario"
	"github.com/robinvdvleuten/flowcast/simulation"
)

type SimulateCmd struct {
	File   FileOrStdin `help:"Scenario filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
	Years  float64     `help:"Projection horizon in years, overriding the file." short:"y"`
	Format string      `help:"Output format (${enum})." enum:"table,json,csv" default:"table" short:"f"`
	Every  int         `help:"Months between table rows." default:"12"`
	Node   []string    `help:"Only show these nodes, in this order." short:"n"`
	Strict bool        `help:"Refuse to simulate when validation finds warnings."`
}

func (cmd *SimulateCmd) Run(ctx *kong.Context, globals *Globals) error {
	if cmd.Years < 0 {
		return fmt.Errorf("--years must be positive, got %g", cmd.Years)
	}

	if err := cmd.File.EnsureContents(); err != nil {
		return err
	}

	runCtx, reportTelemetry := startTelemetry(context.Background(), globals.Telemetry, ctx.Stderr, fmt.Sprintf("simulate %s", cmd.File.label()))
	defer reportTelemetry()

	source, err := cmd.File.GetSourceContent()
	if err != nil {
		return fmt.Errorf("failed to read file for error context: %w", err)
	}

	sc, err := loadScenario(runCtx, ctx.Stderr, &cmd.File, source,
		scenario.WithFollowIncludes(),
		scenario.WithHorizon(cmd.Years),
	)
	if err != nil {
		return err
	}

	nodes, rules := sc.Snapshot()
	if _, err := reportIssues(ctx.Stderr, graph.Validate(nodes, rules), cmd.Strict); err != nil {
		return err
	}

	simulator := simulation.New(simulation.WithLogger(globals.Logger(ctx.Stderr)))
	result := simulator.Run(runCtx, nodes, rules, sc.Settings())

	reporter := report.New(
		report.WithEvery(cmd.Every),
		report.WithNodes(cmd.Node...),
		report.WithStyles(output.NewStyles(ctx.Stdout)),
	)

	switch cmd.Format {
	case "json":
		err = reporter.JSON(ctx.Stdout, result)
	case "csv":
		err = reporter.CSV(ctx.Stdout, result)
	default:
		err = reporter.Table(ctx.Stdout, result)
	}
	if err != nil {
		printError(ctx.Stderr, err.Error())
		return NewCommandError(1)
	}

	return nil
}

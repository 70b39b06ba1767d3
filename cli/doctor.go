package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/alecthomas/repr"
	"github.com/mattn/go-runewidth"
	"golang.org/x/exp/slices"

	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/scenario"
	"github.com/robinvdvleuten/flowcast/simulation"
)

// DoctorCmd provides doctor utilities for debugging scenario files.
type DoctorCmd struct {
	Graph GraphCmd `cmd:"" help:"Show graph structure, allocation loops and reachability from income."`
	Dump  DumpCmd  `cmd:"" help:"Pretty-print the scenario as the engine sees it."`
	Path  PathCmd  `cmd:"" help:"Show how money moves from one node to another."`
}

// load reads a scenario with includes resolved, rendering parse errors to w.
func (f *FileOrStdin) load(ctx context.Context, w io.Writer) (*scenario.Scenario, error) {
	if err := f.EnsureContents(); err != nil {
		return nil, err
	}

	source, err := f.GetSourceContent()
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return loadScenario(ctx, w, f, source, scenario.WithFollowIncludes())
}

// GraphCmd prints the allocation graph.
type GraphCmd struct {
	File FileOrStdin `help:"Scenario filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
}

// Run executes the graph command.
func (cmd *GraphCmd) Run(ctx *kong.Context, globals *Globals) error {
	sc, err := cmd.File.load(context.Background(), ctx.Stderr)
	if err != nil {
		return err
	}

	g := graph.New(sc.Snapshot())
	writeGraph(ctx.Stdout, g)

	return nil
}

func writeGraph(w io.Writer, g *graph.Graph) {
	stats := g.GetStats()
	_, _ = fmt.Fprintf(w, "Nodes:  %d (%d income)\n", stats.NodeCount, stats.IncomeCount)
	_, _ = fmt.Fprintf(w, "Edges:  %d\n", stats.EdgeCount)
	_, _ = fmt.Fprintf(w, "Loops:  %d\n", stats.CycleCount)

	for _, cycle := range g.Cycles() {
		_, _ = fmt.Fprintf(w, "  %s\n", strings.Join(cycle, " ⇄ "))
	}

	nodes := g.Nodes()
	if len(nodes) == 0 {
		return
	}

	reachable := make(map[string]bool)
	for _, id := range g.Reachable(g.Sources()...) {
		reachable[id] = true
	}

	width := 0
	for _, n := range nodes {
		width = max(width, runewidth.StringWidth(n.ID))
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Allocations")
	for _, n := range nodes {
		var status string
		switch {
		case n.Kind == simulation.KindIncome:
			status = "income"
		case reachable[n.ID]:
			status = "funded by " + strings.Join(funders(g, n.ID), ", ")
		default:
			status = "not funded by any income"
		}
		_, _ = fmt.Fprintf(w, "  %s  %s\n", runewidth.FillRight(n.ID, width), status)

		for _, e := range g.GetOutgoingEdges(n.ID) {
			_, _ = fmt.Fprintf(w, "  %s    → %s %s%%\n", strings.Repeat(" ", width), e.To, formatPercentage(e.Percentage))
		}
	}
}

// funders returns the nodes allocating to id, in input order.
func funders(g *graph.Graph, id string) []string {
	var ids []string
	for _, e := range g.GetIncomingEdges(id) {
		ids = append(ids, e.From)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return g.GetNode(a).Index - g.GetNode(b).Index
	})
	return ids
}

// DumpCmd pretty-prints a scenario.
type DumpCmd struct {
	File FileOrStdin `help:"Scenario filename (use '-' for stdin, or omit for stdin)." arg:"" optional:""`
}

// snapshotDump is what the dump command prints.
type snapshotDump struct {
	Name     string
	Files    []string
	Settings simulation.Settings
	Nodes    []simulation.Node
	Rules    []simulation.Rule
}

// Run executes the dump command.
func (cmd *DumpCmd) Run(ctx *kong.Context, globals *Globals) error {
	sc, err := cmd.File.load(context.Background(), ctx.Stderr)
	if err != nil {
		return err
	}

	nodes, rules := sc.Snapshot()
	printer := repr.New(ctx.Stdout, repr.Indent("  "), repr.OmitEmpty(true))
	printer.Println(snapshotDump{
		Name:     sc.Name,
		Files:    sc.Files,
		Settings: sc.Settings(),
		Nodes:    nodes,
		Rules:    rules,
	})

	return nil
}

// PathCmd traces an allocation chain.
type PathCmd struct {
	File FileOrStdin `help:"Scenario filename." arg:""`
	From string      `help:"Node money leaves." arg:""`
	To   string      `help:"Node money arrives at." arg:""`
}

// Run executes the path command.
func (cmd *PathCmd) Run(ctx *kong.Context, globals *Globals) error {
	sc, err := cmd.File.load(context.Background(), ctx.Stderr)
	if err != nil {
		return err
	}

	g := graph.New(sc.Snapshot())
	path, err := g.FindPath(cmd.From, cmd.To)
	if err != nil {
		printError(ctx.Stderr, err.Error())
		return NewCommandError(1)
	}

	writePath(ctx.Stdout, cmd.From, cmd.To, path)
	return nil
}

func writePath(w io.Writer, from, to string, path []*graph.Edge) {
	share := 1.0
	for _, e := range path {
		share *= e.Percentage / 100
		_, _ = fmt.Fprintf(w, "%s → %s  %s%%\n", e.From, e.To, formatPercentage(e.Percentage))
	}
	_, _ = fmt.Fprintf(w, "\n%s%% of what %s allocates reaches %s along this path\n", formatPercentage(share*100), from, to)
}

func formatPercentage(p float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", p), "0"), ".")
}

// Large Scenario Generator
//
// This tool generates a large scenario file for performance testing and profiling.
// It builds layered households with incomes, accounts, pods, goals and
// liabilities, plus a few allocation loops, to stress-test the loader,
// the validator and the simulation engine.
//
// Usage:
//
//	go run main.go > large.yaml
//	go run main.go 5000 > large.yaml  # Specify number of nodes
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/robinvdvleuten/flowcast/scenario"
	"github.com/robinvdvleuten/flowcast/simulation"
)

const (
	defaultNodeCount = 1000
	seed             = 2024
	maxTargets       = 4
)

var (
	cadences = []simulation.Cadence{
		simulation.CadenceDaily,
		simulation.CadenceWeekly,
		simulation.CadenceMonthly,
		simulation.CadenceMonthly,
	}

	kinds = []simulation.Kind{
		simulation.KindAccount,
		simulation.KindPod,
		simulation.KindPod,
		simulation.KindGoal,
		simulation.KindLiability,
	}
)

func main() {
	nodeCount := defaultNodeCount
	if len(os.Args) > 1 {
		if n, err := strconv.Atoi(os.Args[1]); err == nil && n > 1 {
			nodeCount = n
		}
	}

	// Fixed seed so profiles are comparable between runs.
	rng := rand.New(rand.NewPCG(seed, seed))

	nodes, rules := generate(rng, nodeCount)
	s := scenario.FromSnapshot("Performance test", nodes, rules, simulation.Settings{HorizonYears: 30})

	out, err := s.Marshal()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("# Large scenario for performance testing")
	fmt.Print(string(out))

	fmt.Fprintf(os.Stderr, "\nGenerated %d nodes with %d rules (%d bytes)\n", len(nodes), len(rules), len(out))
}

// generate lays nodes out in order and only lets a node allocate to nodes
// after it, except for an occasional edge back that creates a loop.
func generate(rng *rand.Rand, count int) ([]simulation.Node, []simulation.Rule) {
	incomes := max(count/20, 1)

	nodes := make([]simulation.Node, 0, count)
	for i := range incomes {
		nodes = append(nodes, simulation.Node{
			ID:   fmt.Sprintf("income-%d", i),
			Kind: simulation.KindIncome,
			Inflow: &simulation.Inflow{
				Amount:  randAmount(rng, 100, 5000),
				Cadence: cadences[rng.IntN(len(cadences))],
			},
		})
	}

	for i := incomes; i < count; i++ {
		kind := kinds[rng.IntN(len(kinds))]
		node := simulation.Node{
			ID:      fmt.Sprintf("%s-%d", kind, i),
			Kind:    kind,
			Balance: randAmount(rng, 0, 50000),
		}
		if kind == simulation.KindPod {
			node.ReturnRate = randAmount(rng, 0, 0.08)
		}
		nodes = append(nodes, node)
	}

	var rules []simulation.Rule
	for i, n := range nodes {
		if n.Kind == simulation.KindGoal || i == len(nodes)-1 {
			continue
		}

		targets := rng.IntN(maxTargets) + 1
		remaining := 100.0
		rule := simulation.Rule{SourceNodeID: n.ID}

		for t := range targets {
			target := i + 1 + rng.IntN(len(nodes)-i-1)
			if rng.IntN(50) == 0 && i > 0 {
				target = rng.IntN(i)
			}

			share := remaining
			if t < targets-1 {
				share = float64(rng.IntN(int(remaining/2)+1))
			}
			remaining -= share

			rule.Allocations = append(rule.Allocations, simulation.Allocation{
				TargetNodeID: nodes[target].ID,
				Percentage:   share,
			})
		}

		// Non-income nodes only pass part of their balance along.
		if n.Kind != simulation.KindIncome {
			for j := range rule.Allocations {
				rule.Allocations[j].Percentage /= 10
			}
		}

		rules = append(rules, rule)
	}

	return nodes, rules
}

func randAmount(rng *rand.Rand, min, max float64) float64 {
	amount := min + rng.Float64()*(max-min)
	return float64(int(amount*100)) / 100
}

// Package simulation projects a household money-flow graph forward in time.
//
// A graph is a set of nodes (income sources, accounts, pods, goals and
// liabilities) connected by percentage-based allocation rules. Every
// simulated month the engine:
//
//   - compounds each balance by the monthly equivalent of its annual yield,
//   - injects recurring inflows,
//   - resolves cascading allocations until no rule can make progress,
//   - records a snapshot of every balance and the running total.
//
// The engine is a pure function of its input. It copies the caller's nodes
// into its own working state, performs no I/O and keeps nothing between
// calls, so concurrent callers may share a Simulator freely.
//
// Example usage:
//
//	result := simulation.Simulate(nodes, rules, simulation.Settings{HorizonYears: 10})
//	for _, m := range result.Milestones {
//	    if m.Reached() {
//	        fmt.Printf("%s after %.1f years\n", m.Label, m.Years())
//	    }
//	}
package simulation

package graph

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/robinvdvleuten/flowcast/simulation"
)

var hundred = decimal.NewFromInt(100)

// Validate checks a snapshot for problems the engine would silently work
// around. It returns nil for a clean graph and *ValidationErrors otherwise.
// Issues are reported in a stable order: nodes, rules, then graph-wide
// findings.
func Validate(nodes []simulation.Node, rules []simulation.Rule) error {
	if len(nodes) == 0 {
		return &ValidationErrors{Errors: []error{&EmptyGraphError{}}}
	}

	v := &validator{
		nodes: make(map[string]simulation.Node, len(nodes)),
	}

	v.checkNodes(nodes)
	v.checkRules(rules)

	g := New(nodes, rules)
	v.checkIncome(nodes, rules)
	for _, cycle := range g.Cycles() {
		v.add(&CircularAllocationError{Cycle: cycle})
	}

	if len(v.errors) > 0 {
		return &ValidationErrors{Errors: v.errors}
	}
	return nil
}

type validator struct {
	nodes  map[string]simulation.Node
	errors []error
}

func (v *validator) add(err error) {
	v.errors = append(v.errors, err)
}

func (v *validator) checkNodes(nodes []simulation.Node) {
	counts := make(map[string]int, len(nodes))
	for _, n := range nodes {
		counts[n.ID]++
		v.nodes[n.ID] = n
	}

	reported := make(map[string]bool)
	for _, n := range nodes {
		if counts[n.ID] > 1 && !reported[n.ID] {
			reported[n.ID] = true
			v.add(&DuplicateNodeError{ID: n.ID, Count: counts[n.ID]})
		}
		if !n.Kind.Valid() {
			v.add(&InvalidKindError{ID: n.ID, Kind: n.Kind})
		}
	}
}

func (v *validator) checkRules(rules []simulation.Rule) {
	bySource := make(map[string][]int)
	var sources []string

	for i, rule := range rules {
		if _, ok := bySource[rule.SourceNodeID]; !ok {
			sources = append(sources, rule.SourceNodeID)
		}
		bySource[rule.SourceNodeID] = append(bySource[rule.SourceNodeID], i)

		if _, ok := v.nodes[rule.SourceNodeID]; !ok {
			v.add(&MissingNodeError{Rule: i, Source: rule.SourceNodeID, Reference: rule.SourceNodeID, Role: "source"})
		}

		for _, a := range rule.Allocations {
			if a.TargetNodeID == rule.SourceNodeID {
				v.add(&SelfAllocationError{Rule: i, Source: rule.SourceNodeID})
				continue
			}
			if _, ok := v.nodes[a.TargetNodeID]; !ok {
				v.add(&MissingNodeError{Rule: i, Source: rule.SourceNodeID, Reference: a.TargetNodeID, Role: "target"})
			}
			if math.IsNaN(a.Percentage) || math.IsInf(a.Percentage, 0) || a.Percentage < 0 {
				v.add(&InvalidPercentageError{Rule: i, Source: rule.SourceNodeID, Target: a.TargetNodeID, Percentage: a.Percentage})
			}
		}
	}

	for _, source := range sources {
		indexes := bySource[source]
		if len(indexes) > 1 {
			v.add(&DuplicateRuleError{Source: source, Rules: indexes})
		}

		last := indexes[len(indexes)-1]
		if total := allocatedPercentage(rules[last]); total.GreaterThan(hundred) {
			v.add(&OverAllocationError{Rule: last, Source: source, Total: total})
		}
	}
}

// allocatedPercentage sums a rule's percentages exactly, ignoring entries the
// engine skips.
func allocatedPercentage(rule simulation.Rule) decimal.Decimal {
	total := decimal.Zero
	for _, a := range rule.Allocations {
		if a.TargetNodeID == rule.SourceNodeID || math.IsNaN(a.Percentage) || math.IsInf(a.Percentage, 0) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(a.Percentage))
	}
	return total
}

func (v *validator) checkIncome(nodes []simulation.Node, rules []simulation.Rule) {
	routed := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if len(rule.Allocations) > 0 {
			routed[rule.SourceNodeID] = true
		}
	}

	reported := make(map[string]bool)
	for _, n := range nodes {
		if reported[n.ID] {
			continue
		}
		// Duplicate ids are simulated with their last definition.
		n = v.nodes[n.ID]
		if n.Kind != simulation.KindIncome || routed[n.ID] {
			continue
		}
		if monthly := n.Inflow.Monthly(); monthly > 0 {
			reported[n.ID] = true
			v.add(&UnallocatedIncomeError{ID: n.ID, Monthly: monthly})
		}
	}
}

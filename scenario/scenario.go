package scenario

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/robinvdvleuten/flowcast/simulation"
)

// DefaultHorizonYears is used when a file does not set horizon_years.
const DefaultHorizonYears = 10

// Scenario is a household money-flow graph as written in a scenario file.
type Scenario struct {
	Name         string   `yaml:"name,omitempty"`
	HorizonYears float64  `yaml:"horizon_years,omitempty"`
	Include      []string `yaml:"include,omitempty"`
	Nodes        []Node   `yaml:"nodes"`
	Rules        []Rule   `yaml:"rules,omitempty"`

	// Root is the absolute path of the file the scenario was loaded from.
	Root string `yaml:"-"`

	// Files lists every file that contributed to the scenario, root first.
	Files []string `yaml:"-"`
}

// Node is a node entry of a scenario file.
type Node struct {
	ID         string          `yaml:"id"`
	Kind       simulation.Kind `yaml:"kind"`
	Balance    Amount          `yaml:"balance,omitempty"`
	Inflow     *Inflow         `yaml:"inflow,omitempty"`
	ReturnRate float64         `yaml:"return_rate,omitempty"`
}

// Inflow is a recurring amount credited to a node.
type Inflow struct {
	Amount  Amount             `yaml:"amount"`
	Cadence simulation.Cadence `yaml:"cadence,omitempty"`
}

// Rule splits a source's funds across targets.
type Rule struct {
	Source      string       `yaml:"source"`
	Allocations []Allocation `yaml:"allocations"`
}

// Allocation routes a percentage of a rule's source to a target.
type Allocation struct {
	Target     string  `yaml:"target"`
	Percentage float64 `yaml:"percentage"`
}

// Amount is a monetary value. It accepts YAML numbers as well as quoted
// strings, so "1_250.50" and 1250.5 decode to the same value.
type Amount struct {
	decimal.Decimal
}

// NewAmount converts a float to an Amount.
func NewAmount(f float64) Amount {
	return Amount{decimal.NewFromFloat(f)}
}

// Float returns the amount as a float64 for the simulation engine.
func (a Amount) Float() float64 {
	f, _ := a.Decimal.Float64()
	return f
}

func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a number", value.Line)
	}

	raw := strings.ReplaceAll(strings.TrimSpace(value.Value), "_", "")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q", value.Line, value.Value)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	tag := "!!float"
	if a.Decimal.IsInteger() {
		tag = "!!int"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: a.Decimal.String()}, nil
}

// Snapshot converts the scenario into the engine's input types.
func (s *Scenario) Snapshot() ([]simulation.Node, []simulation.Rule) {
	nodes := make([]simulation.Node, len(s.Nodes))
	for i, n := range s.Nodes {
		nodes[i] = simulation.Node{
			ID:         n.ID,
			Kind:       n.Kind,
			Balance:    n.Balance.Float(),
			ReturnRate: n.ReturnRate,
		}
		if n.Inflow != nil {
			cadence := n.Inflow.Cadence
			if cadence == "" {
				cadence = simulation.CadenceMonthly
			}
			nodes[i].Inflow = &simulation.Inflow{Amount: n.Inflow.Amount.Float(), Cadence: cadence}
		}
	}

	rules := make([]simulation.Rule, len(s.Rules))
	for i, r := range s.Rules {
		rules[i] = simulation.Rule{
			SourceNodeID: r.Source,
			Allocations:  make([]simulation.Allocation, len(r.Allocations)),
		}
		for j, a := range r.Allocations {
			rules[i].Allocations[j] = simulation.Allocation{TargetNodeID: a.Target, Percentage: a.Percentage}
		}
	}

	return nodes, rules
}

// Settings returns the projection settings of the scenario.
func (s *Scenario) Settings() simulation.Settings {
	return simulation.Settings{HorizonYears: s.HorizonYears}
}

// FromSnapshot builds a scenario from engine input, e.g. a graph posted by
// the editor that should be written to disk.
func FromSnapshot(name string, nodes []simulation.Node, rules []simulation.Rule, settings simulation.Settings) *Scenario {
	s := &Scenario{
		Name:         name,
		HorizonYears: settings.HorizonYears,
		Nodes:        make([]Node, len(nodes)),
		Rules:        make([]Rule, len(rules)),
	}

	for i, n := range nodes {
		s.Nodes[i] = Node{
			ID:         n.ID,
			Kind:       n.Kind,
			Balance:    NewAmount(n.Balance),
			ReturnRate: n.ReturnRate,
		}
		if n.Inflow != nil {
			s.Nodes[i].Inflow = &Inflow{Amount: NewAmount(n.Inflow.Amount), Cadence: n.Inflow.Cadence}
		}
	}

	for i, r := range rules {
		s.Rules[i] = Rule{Source: r.SourceNodeID, Allocations: make([]Allocation, len(r.Allocations))}
		for j, a := range r.Allocations {
			s.Rules[i].Allocations[j] = Allocation{Target: a.TargetNodeID, Percentage: a.Percentage}
		}
	}

	return s
}

// Marshal renders the scenario as YAML.
func (s *Scenario) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode scenario: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode scenario: %w", err)
	}
	return buf.Bytes(), nil
}

// Starter returns the contents of a new scenario file.
func Starter() []byte {
	return []byte(`# Household money flow.
#
# Kinds: income, account, pod, goal, liability.
# Cadences: daily, weekly, monthly.
name: My household
horizon_years: 10

nodes:
  - id: salary
    kind: income
    inflow: {amount: 4000, cadence: monthly}
  - id: checking
    kind: account
    balance: 2500
  - id: savings
    kind: pod
    balance: 10000
    return_rate: 0.04
  - id: emergency
    kind: goal

rules:
  - source: salary
    allocations:
      - {target: checking, percentage: 70}
      - {target: savings, percentage: 20}
      - {target: emergency, percentage: 10}
`)
}

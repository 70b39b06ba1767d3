package scenario

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"
	"gopkg.in/yaml.v3"

	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/simulation"
)

func TestAmount_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"amount: 1250.5", "1250.5"},
		{`amount: "1_250.50"`, "1250.5"},
		{"amount: -300", "-300"},
		{"amount: ' 42 '", "42"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var inflow Inflow
			err := yaml.Unmarshal([]byte(tt.input), &inflow)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, inflow.Amount.String())
		})
	}

	t.Run("NotAScalar", func(t *testing.T) {
		var inflow Inflow
		err := yaml.Unmarshal([]byte("amount: [1, 2]"), &inflow)
		assert.EqualError(t, err, "line 1: amount must be a number")
	})
}

func TestScenario_Marshal(t *testing.T) {
	s := &Scenario{
		Name:         "Household",
		HorizonYears: 5,
		Nodes: []Node{
			{ID: "salary", Kind: simulation.KindIncome, Inflow: &Inflow{Amount: NewAmount(4000), Cadence: simulation.CadenceMonthly}},
			{ID: "savings", Kind: simulation.KindPod, Balance: NewAmount(1200.5), ReturnRate: 0.04},
		},
		Rules: []Rule{
			{Source: "salary", Allocations: []Allocation{{Target: "savings", Percentage: 25}}},
		},
		Root: "/tmp/household.yaml",
	}

	data, err := s.Marshal()
	assert.NoError(t, err)
	assert.Equal(t, `name: Household
horizon_years: 5
nodes:
  - id: salary
    kind: income
    inflow:
      amount: 4000
      cadence: monthly
  - id: savings
    kind: pod
    balance: 1200.5
    return_rate: 0.04
rules:
  - source: salary
    allocations:
      - target: savings
        percentage: 25
`, string(data))

	reloaded, err := New().LoadBytes(context.Background(), "household.yaml", data)
	assert.NoError(t, err)

	wantNodes, wantRules := s.Snapshot()
	gotNodes, gotRules := reloaded.Snapshot()
	assert.Equal(t, wantNodes, gotNodes)
	assert.Equal(t, wantRules, gotRules)
}

func TestFromSnapshot(t *testing.T) {
	nodes := []simulation.Node{
		{ID: "inc", Kind: simulation.KindIncome, Inflow: &simulation.Inflow{Amount: 1000, Cadence: simulation.CadenceMonthly}},
		{ID: "acc", Kind: simulation.KindAccount, Balance: 250.25},
	}
	rules := []simulation.Rule{
		{SourceNodeID: "inc", Allocations: []simulation.Allocation{{TargetNodeID: "acc", Percentage: 100}}},
	}

	s := FromSnapshot("Editor", nodes, rules, simulation.Settings{HorizonYears: 1})
	assert.Equal(t, "Editor", s.Name)
	assert.Equal(t, 1.0, s.HorizonYears)

	gotNodes, gotRules := s.Snapshot()
	assert.Equal(t, nodes, gotNodes)
	assert.Equal(t, rules, gotRules)
}

func TestStarter(t *testing.T) {
	s, err := New().LoadBytes(context.Background(), "starter.yaml", Starter())
	assert.NoError(t, err)
	assert.Equal(t, "My household", s.Name)

	nodes, rules := s.Snapshot()
	assert.NoError(t, graph.Validate(nodes, rules))

	result := simulation.Simulate(nodes, rules, s.Settings())
	assert.Equal(t, 121, len(result.Points))
}

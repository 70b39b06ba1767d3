package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/robinvdvleuten/flowcast/telemetry"
)

// Simulator runs projections. The zero configuration logs diagnostics to
// slog.Default().
//
// Configure the simulator using functional options passed to New:
//
//	sim := simulation.New(simulation.WithLogger(logger))
type Simulator struct {
	logger *slog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger that receives allocation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// New creates a Simulator with the given options.
func New(opts ...Option) *Simulator {
	s := &Simulator{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulate projects the graph with a default Simulator.
func Simulate(nodes []Node, rules []Rule, settings Settings) *Result {
	return New().Run(context.Background(), nodes, rules, settings)
}

// Run projects the graph over the configured horizon and returns one point
// per month, month 0 included. The caller's slices are never modified.
//
// The context only carries an optional telemetry collector; a run is always
// finite and is never cancelled.
func (s *Simulator) Run(ctx context.Context, nodes []Node, rules []Rule, settings Settings) *Result {
	months := settings.Months()

	timer := telemetry.StartTimer(ctx, fmt.Sprintf("simulation.run (%d nodes, %d rules, %d months)", len(nodes), len(rules), months))
	defer timer.End()

	setupTimer := timer.Child("simulation.setup")
	st := newState(nodes, rules)
	setupTimer.End()

	tracker := newMilestoneTracker()
	result := &Result{order: st.ids()}

	record := func(month int) {
		p := st.snapshot(month)
		tracker.observe(month, p.Total)
		result.Points = append(result.Points, p)
	}

	if len(st.nodes) == 0 {
		record(0)
		return s.finish(result, tracker)
	}

	monthsTimer := timer.Child(fmt.Sprintf("simulation.months (%d)", months))
	result.Points = make([]Point, 0, months+1)
	record(0)

	for month := 1; month <= months; month++ {
		st.compound()
		received := st.inject()
		st.allocate(received, func(unresolved []string) {
			s.log().Warn("circular allocation detected, skipping unresolved rules for this month",
				"month", month,
				"unresolved", unresolved,
			)
		})
		record(month)
	}
	monthsTimer.End()

	return s.finish(result, tracker)
}

func (s *Simulator) finish(result *Result, tracker *milestoneTracker) *Result {
	last := result.Points[len(result.Points)-1]

	result.FinalBalances = make(map[string]float64, len(last.Balances))
	for id, balance := range last.Balances {
		result.FinalBalances[id] = balance
	}
	result.FinalTotal = last.Total
	result.Milestones = tracker.milestones

	return result
}

func (s *Simulator) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// nodeState is the engine's private, mutable copy of a node.
type nodeState struct {
	id      string
	kind    Kind
	balance float64
	inflow  float64

	// monthlyRate is (1+APY)^(1/12) - 1; zero means the node never compounds.
	monthlyRate float64
}

// state is the working copy of the graph for one run. Nodes and rules are
// kept in slices so every pass visits them in input order.
type state struct {
	nodes []*nodeState
	index map[string]*nodeState
	rules []Rule
}

func newState(nodes []Node, rules []Rule) *state {
	st := &state{
		nodes: make([]*nodeState, 0, len(nodes)),
		index: make(map[string]*nodeState, len(nodes)),
	}

	for _, n := range nodes {
		ns := &nodeState{
			id:          n.ID,
			kind:        n.Kind,
			balance:     n.Balance,
			inflow:      n.Inflow.Monthly(),
			monthlyRate: monthlyRate(n.ReturnRate),
		}

		// Duplicate ids keep their first position and take the last value.
		if existing, ok := st.index[n.ID]; ok {
			*existing = *ns
			continue
		}
		st.nodes = append(st.nodes, ns)
		st.index[n.ID] = ns
	}

	// Rules are keyed by source; a later rule replaces an earlier one in place.
	position := make(map[string]int, len(rules))
	for _, r := range rules {
		if i, ok := position[r.SourceNodeID]; ok {
			st.rules[i] = r
			continue
		}
		position[r.SourceNodeID] = len(st.rules)
		st.rules = append(st.rules, r)
	}

	return st
}

// monthlyRate converts an annual yield to its geometric monthly equivalent.
func monthlyRate(apy float64) float64 {
	if math.IsNaN(apy) || math.IsInf(apy, 0) || apy == 0 {
		return 0
	}
	if apy < -1 {
		apy = -1
	}
	return math.Pow(1+apy, 1.0/12) - 1
}

func (st *state) ids() []string {
	ids := make([]string, len(st.nodes))
	for i, n := range st.nodes {
		ids[i] = n.id
	}
	return ids
}

// compound applies one month of growth. Nodes without a rate are left
// untouched rather than multiplied by one.
func (st *state) compound() {
	for _, n := range st.nodes {
		if n.monthlyRate == 0 {
			continue
		}
		n.balance *= 1 + n.monthlyRate
	}
}

// inject credits every positive inflow and returns the ledger of funds each
// node received this month.
func (st *state) inject() map[string]float64 {
	received := make(map[string]float64, len(st.nodes))
	for _, n := range st.nodes {
		if n.inflow > 0 {
			n.balance += n.inflow
			received[n.id] += n.inflow
		}
	}
	return received
}

// allocate resolves cascading allocations for one month. Funds a node
// receives from one rule become available to that node's own rule in the
// same month. Iteration stops once every rule is processed, after
// 2 x len(rules) passes, or as soon as a pass makes no progress; rules left
// unresolved are reported through onUnresolved and skipped until next month.
func (st *state) allocate(received map[string]float64, onUnresolved func([]string)) {
	if len(st.rules) == 0 {
		return
	}

	processed := make(map[string]bool, len(st.rules))
	maxIterations := 2 * len(st.rules)

	for iteration := 0; iteration < maxIterations && len(processed) < len(st.rules); iteration++ {
		madeProgress := false

		for _, rule := range st.rules {
			sourceID := rule.SourceNodeID
			if processed[sourceID] {
				continue
			}

			source, ok := st.index[sourceID]
			if !ok {
				processed[sourceID] = true
				madeProgress = true
				continue
			}

			available := received[sourceID]
			if source.kind == KindIncome {
				available = source.inflow
			}

			if available <= 0 {
				processed[sourceID] = true
				madeProgress = true
				continue
			}

			for _, a := range rule.Allocations {
				if a.TargetNodeID == sourceID {
					continue
				}
				target, ok := st.index[a.TargetNodeID]
				if !ok || math.IsNaN(a.Percentage) || math.IsInf(a.Percentage, 0) {
					continue
				}

				amount := available * (a.Percentage / 100)
				source.balance -= amount
				target.balance += amount
				received[a.TargetNodeID] += amount
			}

			processed[sourceID] = true
			madeProgress = true
		}

		if !madeProgress {
			break
		}
	}

	if len(processed) < len(st.rules) {
		unresolved := make([]string, 0, len(st.rules)-len(processed))
		for _, rule := range st.rules {
			if !processed[rule.SourceNodeID] {
				unresolved = append(unresolved, rule.SourceNodeID)
			}
		}
		onUnresolved(unresolved)
	}
}

// snapshot captures balances and their total, summed in input order.
func (st *state) snapshot(month int) Point {
	p := Point{
		Month:    month,
		Balances: make(map[string]float64, len(st.nodes)),
	}
	for _, n := range st.nodes {
		p.Balances[n.id] = n.balance
		p.Total += n.balance
	}
	return p
}

package simulation

import "math"

// Kind distinguishes income sources from balance-holding nodes.
type Kind string

const (
	KindIncome    Kind = "income"
	KindAccount   Kind = "account"
	KindPod       Kind = "pod"
	KindGoal      Kind = "goal"
	KindLiability Kind = "liability"
)

// Valid reports whether k is one of the known node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindIncome, KindAccount, KindPod, KindGoal, KindLiability:
		return true
	}
	return false
}

// Cadence is the recurrence period of an inflow.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Inflow is a recurring amount credited to a node.
type Inflow struct {
	Amount  float64 `json:"amount"`
	Cadence Cadence `json:"cadence"`
}

// Monthly normalizes the inflow to a monthly equivalent.
// Daily amounts cover 365/12 days and weekly amounts 52/12 weeks. An unknown
// cadence is read as monthly. Nil, non-finite and non-positive inflows yield 0.
func (i *Inflow) Monthly() float64 {
	if i == nil || math.IsNaN(i.Amount) || math.IsInf(i.Amount, 0) || i.Amount <= 0 {
		return 0
	}

	switch i.Cadence {
	case CadenceDaily:
		return i.Amount * 365 / 12
	case CadenceWeekly:
		return i.Amount * 52 / 12
	default:
		return i.Amount
	}
}

// Node is one vertex of the flow graph.
type Node struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Balance float64 `json:"balance"`
	Inflow  *Inflow `json:"inflow,omitempty"`

	// ReturnRate is an annual percentage yield as a fraction (0.05 = 5%).
	ReturnRate float64 `json:"returnRate"`
}

// Allocation routes a percentage (0-100) of a source's funds to a target.
type Allocation struct {
	TargetNodeID string  `json:"targetNodeId"`
	Percentage   float64 `json:"percentage"`
}

// Rule splits the funds a source node receives or generates each month.
// Percentages are independent weights; whatever is not allocated stays with
// the source.
type Rule struct {
	SourceNodeID string       `json:"sourceNodeId"`
	Allocations  []Allocation `json:"allocations"`
}

// Settings controls the projection horizon.
type Settings struct {
	HorizonYears float64 `json:"horizonYears"`
}

// Months converts the horizon to a whole number of months, never less than one.
func (s Settings) Months() int {
	years := s.HorizonYears
	if math.IsNaN(years) || math.IsInf(years, 0) || years <= 0 {
		return 1
	}

	months := math.Round(years * 12)
	if months < 1 {
		return 1
	}
	if months > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(months)
}

// Point is the state of the graph at the end of a month.
// Month 0 is the initial snapshot before any simulation.
type Point struct {
	Month    int                `json:"month"`
	Total    float64            `json:"total"`
	Balances map[string]float64 `json:"balances"`
}

// Result is the projected time series.
type Result struct {
	Points        []Point            `json:"points"`
	Milestones    []Milestone        `json:"milestones"`
	FinalBalances map[string]float64 `json:"finalBalances"`
	FinalTotal    float64            `json:"finalTotal"`

	// order preserves the node order of the input for rendering.
	order []string
}

// NodeIDs returns the simulated node ids in input order.
func (r *Result) NodeIDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Series returns one node's balance for every month, or nil if the node was
// not part of the simulation.
func (r *Result) Series(id string) []float64 {
	if _, ok := r.FinalBalances[id]; !ok {
		return nil
	}

	series := make([]float64, len(r.Points))
	for i, p := range r.Points {
		series[i] = p.Balances[id]
	}
	return series
}

// NextMilestone returns the first milestone not reached within the horizon.
func (r *Result) NextMilestone() (Milestone, bool) {
	for _, m := range r.Milestones {
		if !m.Reached() {
			return m, true
		}
	}
	return Milestone{}, false
}

package simulation

// Milestone tracks the first month the running total reaches a threshold.
type Milestone struct {
	Threshold      float64 `json:"threshold"`
	Label          string  `json:"label"`
	ReachedAtMonth *int    `json:"reachedAtMonth"`
}

// Reached reports whether the threshold was crossed within the horizon.
func (m Milestone) Reached() bool {
	return m.ReachedAtMonth != nil
}

// Years returns the crossing month expressed in years, or -1 if unreached.
func (m Milestone) Years() float64 {
	if m.ReachedAtMonth == nil {
		return -1
	}
	return float64(*m.ReachedAtMonth) / 12
}

var ladder = []Milestone{
	{Threshold: 10_000, Label: "$10K"},
	{Threshold: 100_000, Label: "$100K"},
	{Threshold: 1_000_000, Label: "$1M"},
	{Threshold: 10_000_000, Label: "$10M"},
	{Threshold: 100_000_000, Label: "$100M"},
}

// Milestones returns the fixed wealth ladder, none of it reached.
func Milestones() []Milestone {
	ms := make([]Milestone, len(ladder))
	copy(ms, ladder)
	return ms
}

// milestoneTracker records first crossings. A rung is never revisited once
// marked, so a total that dips and recovers keeps its earliest month.
type milestoneTracker struct {
	milestones []Milestone
}

func newMilestoneTracker() *milestoneTracker {
	return &milestoneTracker{milestones: Milestones()}
}

func (t *milestoneTracker) observe(month int, total float64) {
	for i := range t.milestones {
		m := &t.milestones[i]
		if m.ReachedAtMonth != nil {
			continue
		}
		if total >= m.Threshold {
			reached := month
			m.ReachedAtMonth = &reached
		}
	}
}

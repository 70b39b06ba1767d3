package graph

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/robinvdvleuten/flowcast/simulation"
)

// Severity tells blocking problems apart from suspicious but simulatable
// input.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Issue is implemented by every validation error.
type Issue interface {
	error
	Severity() Severity

	// Nodes returns the ids of the nodes involved.
	Nodes() []string
}

// ValidationErrors wraps multiple validation issues.
type ValidationErrors struct {
	Errors []error
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d validation issues found", len(e.Errors))
}

// Unwrap returns the underlying errors for error unwrapping
func (e *ValidationErrors) Unwrap() []error {
	return e.Errors
}

// HasErrors reports whether any issue is blocking.
func (e *ValidationErrors) HasErrors() bool {
	return e.Count(SeverityError) > 0
}

// Count returns the number of issues with the given severity.
func (e *ValidationErrors) Count(severity Severity) int {
	n := 0
	for _, err := range e.Errors {
		if issue, ok := err.(Issue); ok && issue.Severity() == severity {
			n++
		}
	}
	return n
}

func ruleLabel(index int, source string) string {
	return fmt.Sprintf("rule #%d (%s)", index+1, source)
}

// EmptyGraphError is returned when a snapshot has no nodes.
type EmptyGraphError struct{}

func (e *EmptyGraphError) Error() string {
	return "graph has no nodes; add nodes before simulating"
}

func (e *EmptyGraphError) Severity() Severity { return SeverityError }

func (e *EmptyGraphError) Nodes() []string { return nil }

// DuplicateNodeError is returned when several nodes share an id. Only the
// last definition is simulated.
type DuplicateNodeError struct {
	ID    string
	Count int
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %q is defined %d times", e.ID, e.Count)
}

func (e *DuplicateNodeError) Severity() Severity { return SeverityError }

func (e *DuplicateNodeError) Nodes() []string { return []string{e.ID} }

// InvalidKindError is returned for a node kind the engine does not know.
type InvalidKindError struct {
	ID   string
	Kind simulation.Kind
}

func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("node %q has unknown kind %q (expected income, account, pod, goal or liability)", e.ID, e.Kind)
}

func (e *InvalidKindError) Severity() Severity { return SeverityError }

func (e *InvalidKindError) Nodes() []string { return []string{e.ID} }

// MissingNodeError is returned when a rule references an unknown node.
type MissingNodeError struct {
	Rule      int    // index of the rule
	Source    string // source of the rule
	Reference string // the unknown id
	Role      string // "source" or "target"
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("%s references unknown %s node %q", ruleLabel(e.Rule, e.Source), e.Role, e.Reference)
}

func (e *MissingNodeError) Severity() Severity { return SeverityError }

func (e *MissingNodeError) Nodes() []string { return []string{e.Reference} }

// SelfAllocationError is returned when a rule routes money back to its own
// source. The engine skips such allocations.
type SelfAllocationError struct {
	Rule   int
	Source string
}

func (e *SelfAllocationError) Error() string {
	return fmt.Sprintf("%s allocates to its own source", ruleLabel(e.Rule, e.Source))
}

func (e *SelfAllocationError) Severity() Severity { return SeverityError }

func (e *SelfAllocationError) Nodes() []string { return []string{e.Source} }

// InvalidPercentageError is returned for negative or non-finite percentages.
type InvalidPercentageError struct {
	Rule       int
	Source     string
	Target     string
	Percentage float64
}

func (e *InvalidPercentageError) Error() string {
	return fmt.Sprintf("%s has invalid percentage %v for target %q", ruleLabel(e.Rule, e.Source), e.Percentage, e.Target)
}

func (e *InvalidPercentageError) Severity() Severity { return SeverityError }

func (e *InvalidPercentageError) Nodes() []string { return []string{e.Source, e.Target} }

// DuplicateRuleError is returned when a source has several rules. Only the
// last one is used.
type DuplicateRuleError struct {
	Source string
	Rules  []int
}

func (e *DuplicateRuleError) Error() string {
	labels := make([]string, len(e.Rules))
	for i, r := range e.Rules {
		labels[i] = fmt.Sprintf("#%d", r+1)
	}
	return fmt.Sprintf("node %q has %d rules (%s); only rule %s is used",
		e.Source, len(e.Rules), strings.Join(labels, ", "), labels[len(labels)-1])
}

func (e *DuplicateRuleError) Severity() Severity { return SeverityWarning }

func (e *DuplicateRuleError) Nodes() []string { return []string{e.Source} }

// OverAllocationError is returned when a rule hands out more than 100% of
// what its source receives.
type OverAllocationError struct {
	Rule   int
	Source string
	Total  decimal.Decimal
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("%s allocates %s%% of its funds; the source balance will go down each month",
		ruleLabel(e.Rule, e.Source), e.Total.String())
}

func (e *OverAllocationError) Severity() Severity { return SeverityWarning }

func (e *OverAllocationError) Nodes() []string { return []string{e.Source} }

// UnallocatedIncomeError is returned for an income node whose inflow is not
// routed anywhere.
type UnallocatedIncomeError struct {
	ID      string
	Monthly float64
}

func (e *UnallocatedIncomeError) Error() string {
	return fmt.Sprintf("income %q receives %.2f per month but has no allocation rule", e.ID, e.Monthly)
}

func (e *UnallocatedIncomeError) Severity() Severity { return SeverityWarning }

func (e *UnallocatedIncomeError) Nodes() []string { return []string{e.ID} }

// CircularAllocationError is returned for every loop of allocations. Funds
// that travel around a loop are only moved once per month.
type CircularAllocationError struct {
	Cycle []string
}

func (e *CircularAllocationError) Error() string {
	return fmt.Sprintf("circular allocation between %s", strings.Join(e.Cycle, ", "))
}

func (e *CircularAllocationError) Severity() Severity { return SeverityWarning }

func (e *CircularAllocationError) Nodes() []string { return e.Cycle }

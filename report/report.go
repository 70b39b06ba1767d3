// Package report renders projection results as terminal tables, CSV and
// JSON.
//
// Example usage:
//
//	r := report.New(report.WithEvery(12), report.WithNodes("savings", "mortgage"))
//	if err := r.Table(os.Stdout, result); err != nil {
//	    return err
//	}
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/robinvdvleuten/flowcast/output"
	"github.com/robinvdvleuten/flowcast/simulation"
)

const (
	// DefaultEvery prints one table row per year.
	DefaultEvery = 12

	// MinimumSpacing is the number of spaces between table columns.
	MinimumSpacing = 2
)

// Reporter renders a simulation result.
type Reporter struct {
	// Every is the number of months between table rows. The final month is
	// always printed.
	Every int

	// Nodes limits the node columns of tables and CSV files. All nodes are
	// printed in input order when empty.
	Nodes []string

	styles *output.Styles
}

// Option is a functional option for configuring a Reporter.
type Option func(*Reporter)

// WithEvery sets the number of months between table rows.
func WithEvery(months int) Option {
	return func(r *Reporter) {
		r.Every = months
	}
}

// WithNodes limits the node columns to the given ids, in the given order.
func WithNodes(ids ...string) Option {
	return func(r *Reporter) {
		r.Nodes = ids
	}
}

// WithStyles sets the styles used for tables. By default styles are derived
// from the writer passed to Table.
func WithStyles(styles *output.Styles) Option {
	return func(r *Reporter) {
		r.styles = styles
	}
}

// New creates a new Reporter with the given options.
func New(opts ...Option) *Reporter {
	r := &Reporter{
		Every: DefaultEvery,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.Every <= 0 {
		r.Every = DefaultEvery
	}

	return r
}

// columns resolves the node columns for a result.
func (r *Reporter) columns(result *simulation.Result) ([]string, error) {
	if len(r.Nodes) == 0 {
		return result.NodeIDs(), nil
	}

	for _, id := range r.Nodes {
		if result.Series(id) == nil {
			return nil, fmt.Errorf("unknown node %q", id)
		}
	}
	return r.Nodes, nil
}

// JSON writes the complete result as indented JSON.
func (r *Reporter) JSON(w io.Writer, result *simulation.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// Money formats an amount with thousands separators and two decimals.
func Money(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}
	if math.Abs(f) < 0.005 {
		f = 0
	}
	return humanize.FormatFloat("#,###.##", f)
}

// cents renders an amount rounded to two decimals without separators.
func cents(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprint(f)
	}
	d := decimal.NewFromFloat(f).Round(2)
	if d.IsZero() {
		return "0.00"
	}
	return d.StringFixed(2)
}

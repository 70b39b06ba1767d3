package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/robinvdvleuten/flowcast/output"
	"github.com/robinvdvleuten/flowcast/simulation"
)

// tableCell is a rendered cell before styling. Styling happens after
// padding so escape codes never count towards column widths.
type tableCell struct {
	text     string
	negative bool
}

// Table writes a column-aligned table of balances followed by the final
// total and the milestone ladder.
func (r *Reporter) Table(w io.Writer, result *simulation.Result) error {
	ids, err := r.columns(result)
	if err != nil {
		return err
	}

	styles := r.styles
	if styles == nil {
		styles = output.NewStyles(w)
	}

	header := append([]string{"Month", "Years", "Total"}, ids...)
	rows := r.rows(result, ids)

	// Calculate column widths
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell.text))
		}
	}

	var buf strings.Builder
	spacing := strings.Repeat(" ", MinimumSpacing)

	for i, h := range header {
		if i > 0 {
			buf.WriteString(spacing)
		}
		padded := runewidth.FillLeft(h, widths[i])
		if i < 3 {
			buf.WriteString(styles.Keyword(padded))
		} else {
			buf.WriteString(styles.Node(padded))
		}
	}
	buf.WriteByte('\n')

	for _, row := range rows {
		for i, cell := range row {
			padded := runewidth.FillLeft(cell.text, widths[i])
			switch {
			case i == 0:
				buf.WriteString(styles.Dim(padded))
			case i == 1:
				buf.WriteString(spacing)
				buf.WriteString(styles.Dim(padded))
			default:
				buf.WriteString(spacing)
				buf.WriteString(styles.Amount(padded, cell.negative))
			}
		}
		buf.WriteByte('\n')
	}

	last := result.Points[len(result.Points)-1]
	fmt.Fprintf(&buf, "\nFinal total: %s after %d months (%s years)\n",
		styles.Amount(Money(result.FinalTotal), result.FinalTotal < 0), last.Month, years(last.Month))

	writeMilestones(&buf, styles, result)

	_, err = io.WriteString(w, buf.String())
	return err
}

// rows selects every r.Every-th month and always the final one.
func (r *Reporter) rows(result *simulation.Result, ids []string) [][]tableCell {
	var months []int
	for m := 0; m < len(result.Points); m += r.Every {
		months = append(months, m)
	}
	if final := len(result.Points) - 1; months[len(months)-1] != final {
		months = append(months, final)
	}

	rows := make([][]tableCell, 0, len(months))
	for _, m := range months {
		p := result.Points[m]
		row := make([]tableCell, 0, len(ids)+3)
		row = append(row,
			tableCell{text: strconv.Itoa(p.Month)},
			tableCell{text: years(p.Month)},
			tableCell{text: Money(p.Total), negative: p.Total < 0},
		)
		for _, id := range ids {
			balance := p.Balances[id]
			row = append(row, tableCell{text: Money(balance), negative: balance < 0})
		}
		rows = append(rows, row)
	}
	return rows
}

// writeMilestones lists the ladder. The first rung not reached also shows
// how far the final total is from it.
func writeMilestones(buf *strings.Builder, styles *output.Styles, result *simulation.Result) {
	milestones := result.Milestones
	if len(milestones) == 0 {
		return
	}
	next, hasNext := result.NextMilestone()

	labelWidth := 0
	for _, m := range milestones {
		labelWidth = max(labelWidth, runewidth.StringWidth(m.Label))
	}

	buf.WriteString("\n")
	buf.WriteString(styles.Keyword("Milestones"))
	buf.WriteString("\n")

	for _, m := range milestones {
		label := runewidth.FillRight(m.Label, labelWidth)
		buf.WriteString("  ")
		buf.WriteString(label)
		buf.WriteString(strings.Repeat(" ", MinimumSpacing))
		if m.Reached() {
			buf.WriteString(styles.Success(fmt.Sprintf("reached at month %d (%s years)", *m.ReachedAtMonth, years(*m.ReachedAtMonth))))
		} else if hasNext && m.Threshold == next.Threshold {
			buf.WriteString(styles.Dim(fmt.Sprintf("not reached (%s to go)", Money(next.Threshold-result.FinalTotal))))
		} else {
			buf.WriteString(styles.Dim("not reached"))
		}
		buf.WriteString("\n")
	}
}

// years formats a month count as years with one decimal.
func years(months int) string {
	return strconv.FormatFloat(float64(months)/12, 'f', 1, 64)
}

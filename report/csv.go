package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/robinvdvleuten/flowcast/simulation"
)

// CSV writes one record per month: the month, the total and one column per
// node. Amounts are rounded to cents.
func (r *Reporter) CSV(w io.Writer, result *simulation.Result) error {
	ids, err := r.columns(result)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)

	header := append([]string{"month", "total"}, ids...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(header))
	for _, p := range result.Points {
		record[0] = strconv.Itoa(p.Month)
		record[1] = cents(p.Total)
		for i, id := range ids {
			record[i+2] = cents(p.Balances[id])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for month %d: %w", p.Month, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

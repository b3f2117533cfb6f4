package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders the batch table as CSV string.
func RenderCSV(rows []BatchRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("batch_id,external_id,vintage,total_supply,free,staked,retired,retired_pct,conserved\n")

	// Rows
	for _, b := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%d,%d,%d,%.6f,%t\n",
			b.BatchID,
			b.ExternalID,
			b.Vintage,
			b.TotalSupply,
			b.Free,
			b.Staked,
			b.Retired,
			b.RetiredPct,
			b.Conserved,
		))
	}

	return sb.String()
}

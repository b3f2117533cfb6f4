package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Carbon Ledger Impact Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Journal seq: %d\n\n", r.Seq))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Batches | %d |\n", r.Summary.Batches))
	sb.WriteString(fmt.Sprintf("| Holders | %d |\n", r.Summary.Holders))
	sb.WriteString(fmt.Sprintf("| Total Supply | %d |\n", r.Summary.TotalSupply))
	sb.WriteString(fmt.Sprintf("| Free | %d |\n", r.Summary.Free))
	sb.WriteString(fmt.Sprintf("| Staked | %d |\n", r.Summary.Staked))
	sb.WriteString(fmt.Sprintf("| Retired | %d |\n", r.Summary.Retired))
	sb.WriteString(fmt.Sprintf("| Open Positions | %d |\n", r.Summary.OpenPositions))
	sb.WriteString(fmt.Sprintf("| Rewards Paid | %s |\n", r.Summary.RewardsPaid.StringFixed(6)))
	sb.WriteString("\n")

	// Integrity
	sb.WriteString("## Integrity\n\n")
	if r.Integrity.Conserved {
		sb.WriteString("**Supply conserved** for every batch.\n\n")
	} else {
		sb.WriteString("**Conservation violated** for:\n\n")
		for _, id := range r.Integrity.Violations {
			sb.WriteString(fmt.Sprintf("- %s\n", id))
		}
		sb.WriteString("\n")
	}
	if r.Integrity.LastVerifiedAt > 0 {
		sb.WriteString(fmt.Sprintf("Last verification: %s at seq %d (%s)\n\n",
			r.Integrity.LastVerification,
			r.Integrity.LastVerifiedSeq,
			time.UnixMilli(r.Integrity.LastVerifiedAt).UTC().Format(time.RFC3339)))
	} else {
		sb.WriteString("Last verification: never\n\n")
	}

	// Batches
	sb.WriteString("## Batches\n\n")
	if len(r.Batches) > 0 {
		sb.WriteString("| Batch | Serial | Project | Vintage | Total | Free | Staked | Retired | Retired% | Conserved |\n")
		sb.WriteString("|-------|--------|---------|---------|-------|------|--------|---------|----------|-----------|\n")
		for _, b := range r.Batches {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %d | %d | %d | %.2f | %s |\n",
				b.BatchID, b.ExternalID, b.ProjectName, b.Vintage,
				b.TotalSupply, b.Free, b.Staked, b.Retired, b.RetiredPct, passFail(b.Conserved)))
		}
	} else {
		sb.WriteString("No batches registered.\n")
	}
	sb.WriteString("\n")

	// Leaderboard
	sb.WriteString("## Retirement Leaderboard\n\n")
	if len(r.Leaderboard) > 0 {
		sb.WriteString("| Rank | Holder | Retired | Certificates |\n")
		sb.WriteString("|------|--------|---------|--------------|\n")
		for _, l := range r.Leaderboard {
			sb.WriteString(fmt.Sprintf("| %d | %s | %d | %d |\n", l.Rank, l.Holder, l.Retired, l.Certificates))
		}
	} else {
		sb.WriteString("No retirements yet.\n")
	}
	sb.WriteString("\n")

	// Certificates
	sb.WriteString("## Recent Certificates\n\n")
	if len(r.Certificates) > 0 {
		sb.WriteString("| Certificate | Holder | Batch | Amount | Retired At | Beneficiary | Fingerprint |\n")
		sb.WriteString("|-------------|--------|-------|--------|------------|-------------|-------------|\n")
		for _, c := range r.Certificates {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %s | %s |\n",
				c.CertificateID, c.Holder, c.BatchID, c.Amount,
				time.UnixMilli(c.RetiredAt).UTC().Format(time.RFC3339),
				c.Beneficiary, c.Fingerprint))
		}
	} else {
		sb.WriteString("No certificates issued.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

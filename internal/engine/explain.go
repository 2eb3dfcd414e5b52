package engine

import (
	"fmt"
	"strings"

	"github.com/spigell/hh-pricer/internal/aggregate"
	"github.com/spigell/hh-pricer/internal/pricing"
)

// explain renders a summary a reviewer can judge without reading logs.
func explain(r *run, result *pricing.Result) string {
	var b strings.Builder

	if len(r.accepted) > 0 {
		top := r.accepted[0]
		fmt.Fprintf(&b, "Matched role %q (%s, match confidence %.2f", top.RoleTitle, top.RoleID, top.Confidence)
		if top.Verdict == pricing.VerdictAccepted {
			b.WriteString(", verified")
		}
		b.WriteString(").")
		if len(r.accepted) > 1 {
			others := make([]string, 0, len(r.accepted)-1)
			for _, m := range r.accepted[1:] {
				others = append(others, m.RoleID)
			}
			fmt.Fprintf(&b, " Also considered: %s.", strings.Join(others, ", "))
		}
	} else {
		b.WriteString("No canonical role matched.")
	}

	if len(result.Contributions) > 0 {
		parts := make([]string, 0, len(result.Contributions))
		for _, c := range result.Contributions {
			parts = append(parts, fmt.Sprintf("%s (%s, weight %.2f, sample %d, %.0f days old)", c.SourceID, c.Kind, c.Weight, c.SampleSize, c.AgeDays))
		}
		fmt.Fprintf(&b, " Sources: %s.", strings.Join(parts, "; "))
	} else {
		fmt.Fprintf(&b, " No usable market data; %s fallback estimate used.", nonEmpty(r.fallback, "default"))
	}

	fmt.Fprintf(&b, " Confidence %.1f (%s).", result.Confidence, aggregate.Band(result.Confidence))

	if len(result.Degradations) > 0 {
		parts := make([]string, 0, len(result.Degradations))
		for _, d := range result.Degradations {
			parts = append(parts, fmt.Sprintf("%s: %s", d.Stage, d.Reason))
		}
		fmt.Fprintf(&b, " Degraded: %s.", strings.Join(parts, "; "))
	}

	return b.String()
}

package report

import (
	"github.com/charlie0129/battfleet/pkg/fleet"
)

// DefaultMinHealth is the alert threshold when none is configured.
const DefaultMinHealth = 80

// BelowThreshold returns the rows whose known health is below pct, lowest
// health first. Rows without a health reading never alert.
func BelowThreshold(rows []fleet.Row, pct int) []fleet.Row {
	out := make([]fleet.Row, 0)
	for _, r := range rows {
		if h, ok := r.Health(); ok && h < pct {
			out = append(out, r)
		}
	}
	fleet.SortRows(out, fleet.SortHealth, false)
	return out
}

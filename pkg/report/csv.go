// Package report renders fleet rows as CSV and HTML.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/battfleet/pkg/fleet"
)

// Header is the CSV header. Columns may only be appended.
var Header = []string{
	"Device Name",
	"User",
	"Department",
	"Last Update",
	"Health %",
	"Cycle Count",
	"Full Charge Capacity (mAh)",
	"Design Capacity (mAh)",
	"Current Capacity (mAh)",
	"Condition",
	"Over Cycle Threshold",
	"Charging",
	"Run State",
}

// WriteCSV writes rows with Header. Absent values are empty cells.
func WriteCSV(w io.Writer, rows []fleet.Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return pkgerrors.Wrapf(err, "failed to write csv header")
	}
	for _, r := range rows {
		if err := cw.Write(csvRecord(r)); err != nil {
			return pkgerrors.Wrapf(err, "failed to write csv row of %s", r.DeviceName)
		}
	}

	cw.Flush()
	return pkgerrors.Wrapf(cw.Error(), "failed to flush csv")
}

func csvRecord(r fleet.Row) []string {
	cond := ""
	if r.Condition != nil {
		cond = string(*r.Condition)
	}
	updated := ""
	if !r.LastUpdate.IsZero() {
		updated = r.LastUpdate.UTC().Format(time.RFC3339)
	}

	return []string{
		r.DeviceName,
		r.UserPrincipalName,
		r.Department,
		updated,
		optInt(r.HealthPercent),
		optInt(r.CycleCount),
		optInt(r.FullChargeCapacity),
		optInt(r.DesignCapacity),
		optInt(r.CurrentCapacity),
		cond,
		optBool(r.OverThreshold),
		optBool(r.IsCharging),
		r.RunState,
	}
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optBool(v *bool) string {
	if v == nil {
		return ""
	}
	if *v {
		return "Yes"
	}
	return "No"
}

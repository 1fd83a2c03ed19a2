package report

import (
	"fmt"
	"html/template"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/battfleet/pkg/fleet"
)

// Data is what the HTML report is rendered from.
type Data struct {
	Title       string
	GeneratedAt time.Time
	Threshold   int
	Summary     fleet.Summary
	Rows        []fleet.Row
	Alerts      []fleet.Row
}

// NewData builds report data from rows. Rows are sorted by health, lowest
// first.
func NewData(title string, rows []fleet.Row, threshold int) Data {
	sorted := append([]fleet.Row(nil), rows...)
	fleet.SortRows(sorted, fleet.SortHealth, false)

	return Data{
		Title:       title,
		GeneratedAt: time.Now(),
		Threshold:   threshold,
		Summary:     fleet.Summarize(rows, threshold),
		Rows:        sorted,
		Alerts:      BelowThreshold(rows, threshold),
	}
}

var funcs = template.FuncMap{
	"opt": func(v *int) string {
		return optInt(v)
	},
	"yesno": func(v *bool) string {
		return optBool(v)
	},
	"cond": func(r fleet.Row) string {
		if r.Condition == nil {
			return fleet.ConditionUnknown
		}
		return string(*r.Condition)
	},
	"below": func(r fleet.Row, threshold int) bool {
		h, ok := r.Health()
		return ok && h < threshold
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04 MST")
	},
	"pct": func(f float64) string {
		return fmt.Sprintf("%.1f%%", f)
	},
}

var page = template.Must(template.New("report").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
<style>
body { font-family: -apple-system, Helvetica, Arial, sans-serif; font-size: 13px; color: #222; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
th { background: #f2f2f2; }
tr.alert td { background: #fde2e1; }
.muted { color: #888; }
</style>
</head>
<body>
<h1>{{ .Title }}</h1>
<p class="muted">Generated {{ date .GeneratedAt }}. Alert threshold: {{ .Threshold }}% health.</p>
<h2>Summary</h2>
<table>
<tr><th>Devices</th><td>{{ .Summary.Devices }}</td></tr>
<tr><th>Reporting a battery</th><td>{{ .Summary.WithBattery }}</td></tr>
<tr><th>No battery data</th><td>{{ .Summary.NoBattery }}</td></tr>
<tr><th>Failed script runs</th><td>{{ .Summary.FailedRuns }}</td></tr>
<tr><th>Mean health</th><td>{{ pct .Summary.MeanHealth }}</td></tr>
<tr><th>Minimum health</th><td>{{ opt .Summary.MinHealth }}</td></tr>
<tr><th>Below {{ .Threshold }}%</th><td>{{ .Summary.BelowThreshold }}</td></tr>
<tr><th>Over cycle threshold</th><td>{{ .Summary.OverCycles }}</td></tr>
<tr><th>Service needed</th><td>{{ .Summary.NeedsService }}</td></tr>
</table>
{{- if .Alerts }}
<h2>Below threshold ({{ len .Alerts }})</h2>
<ul>
{{- range .Alerts }}
<li>{{ .DeviceName }} ({{ .UserPrincipalName }}): {{ opt .HealthPercent }}%</li>
{{- end }}
</ul>
{{- end }}
<h2>Devices</h2>
<table>
<tr><th>Device</th><th>User</th><th>Department</th><th>Health %</th><th>Cycles</th><th>Condition</th><th>Full / Design (mAh)</th><th>Last update</th></tr>
{{- $threshold := .Threshold }}
{{- range .Rows }}
<tr{{ if below . $threshold }} class="alert"{{ end }}><td>{{ .DeviceName }}</td><td>{{ .UserPrincipalName }}</td><td>{{ .Department }}</td><td>{{ opt .HealthPercent }}</td><td>{{ opt .CycleCount }}</td><td>{{ cond . }}</td><td>{{ opt .FullChargeCapacity }} / {{ opt .DesignCapacity }}</td><td>{{ date .LastUpdate }}</td></tr>
{{- end }}
</table>
</body>
</html>
`))

// WriteHTML renders d as a standalone HTML page.
func WriteHTML(w io.Writer, d Data) error {
	if err := page.Execute(w, d); err != nil {
		return pkgerrors.Wrapf(err, "failed to render html report")
	}
	return nil
}

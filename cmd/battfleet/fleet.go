package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battfleet/pkg/config"
	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/report"
)

const enrichTimeout = 2 * time.Minute

type fleetFlags struct {
	attribute string
	enrich    bool
	query     fleet.Query
}

func (f *fleetFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.attribute, "attribute", "a", "", "custom attribute name or id (defaults to the configured one)")
	fl.BoolVar(&f.enrich, "enrich", true, "look up department and manager of each user")
	fl.StringVar(&f.query.Search, "search", "", "only show devices whose name, user or serial contains this")
	fl.StringVar(&f.query.Condition, "condition", "", "only show devices with this battery condition")
	fl.IntVar(&f.query.MaxHealth, "health-below", 0, "only show devices whose health is below this percentage")
	fl.BoolVar(&f.query.OverThreshold, "over-cycles", false, "only show devices over the cycle threshold")
	fl.BoolVar(&f.query.NeedsService, "needs-service", false, "only show devices whose battery needs service")
	fl.BoolVar(&f.query.FailedOnly, "failed", false, "only show devices whose script run failed")
	fl.StringVar(&f.query.OlderThanOS, "older-than", "", "only show devices running a macOS version older than this")
	fl.StringVar(&f.query.SortBy, "sort", fleet.SortDevice, "sort by device, user, health, cycles, condition, updated, department or os")
	fl.BoolVar(&f.query.Descending, "desc", false, "sort in descending order")
}

// load fetches the fleet into a view, waiting a bounded time for
// enrichment to finish.
func (f *fleetFlags) load(ctx context.Context, conf *config.File) (*fleet.View, error) {
	attribute := f.attribute
	if attribute == "" {
		attribute = conf.Attribute()
	}

	gc, _, err := newGraphClient(ctx, conf)
	if err != nil {
		return nil, err
	}
	agg := newAggregator(gc, conf)

	view := fleet.NewView(agg, attribute, fleet.WithEnrichment(false))
	if err := view.Refresh(ctx); err != nil {
		return nil, err
	}

	if f.enrich && conf.Enrich() {
		ectx, cancel := context.WithTimeout(ctx, enrichTimeout)
		defer cancel()
		n := 0
		for e := range agg.Enrich(ectx, view.Rows(fleet.Query{})) {
			n += view.ApplyEnrichment(e)
		}
		logrus.WithField("rows", n).Debug("rows enriched")
	}

	return view, nil
}

func NewFetchCommand() *cobra.Command {
	var flags fleetFlags
	asJSON := false

	cmd := &cobra.Command{
		Use:     "fetch",
		GroupID: gFleet,
		Short:   "Fetch battery health of the fleet",
		Long: `Fetch the latest battery telemetry of every managed Mac from Microsoft
Graph and print it as a table.`,
		Example: `  battfleet fetch --sort health
  battfleet fetch --health-below 80 --json
  battfleet fetch --older-than 14.0 --sort os`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			view, err := flags.load(cmd.Context(), conf)
			if err != nil {
				return err
			}
			rows := view.Rows(flags.query)

			if asJSON {
				out, err := json.MarshalIndent(rows, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return nil
			}

			if err := printRows(cmd.OutOrStdout(), rows, conf.MinHealth()); err != nil {
				return err
			}

			s := fleet.Summarize(rows, conf.MinHealth())
			cmd.Println()
			cmd.Printf("%s devices, %s with battery data, %s below %d%%, %s failed runs\n",
				bold("%d", s.Devices), bold("%d", s.WithBattery), bold("%d", s.BelowThreshold), s.Threshold, bold("%d", s.FailedRuns))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rows as JSON")

	return cmd
}

func printRows(out io.Writer, rows []fleet.Row, threshold int) error {
	cell := lipgloss.NewStyle().PaddingRight(2)
	t := table.New().
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cell.Bold(true)
			}
			return cell
		}).
		Headers("DEVICE", "USER", "DEPARTMENT", "OS", "HEALTH", "CYCLES", "CONDITION", "UPDATED", "RUN")

	for _, r := range rows {
		cond := "-"
		if r.Condition != nil {
			cond = string(*r.Condition)
		}
		mark := ""
		if h, ok := r.Health(); ok && h < threshold {
			mark = "!"
		}
		updated := "-"
		if !r.LastUpdate.IsZero() {
			updated = r.LastUpdate.Local().Format(time.DateTime)
		}
		t.Row(
			r.DeviceName,
			dash(r.UserPrincipalName),
			dash(r.Department),
			dash(r.OSVersion),
			optInt(r.HealthPercent, "%")+mark,
			optInt(r.CycleCount, ""),
			cond,
			updated,
			runState(r),
		)
	}

	_, err := fmt.Fprintln(out, t.Render())
	return err
}

func runState(r fleet.Row) string {
	if r.Succeeded() {
		return r.RunState
	}
	if r.ErrorCode != 0 {
		return fmt.Sprintf("%s (%d)", r.RunState, r.ErrorCode)
	}
	return r.RunState
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func NewExportCommand() *cobra.Command {
	var flags fleetFlags
	format := "csv"
	output := "-"

	cmd := &cobra.Command{
		Use:     "export",
		GroupID: gFleet,
		Short:   "Export battery health of the fleet as CSV or HTML",
		Example: `  battfleet export -o fleet.csv
  battfleet export --format html -o report.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "csv" && format != "html" {
				return fmt.Errorf("unknown format %q, must be csv or html", format)
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}

			view, err := flags.load(cmd.Context(), conf)
			if err != nil {
				return err
			}
			rows := view.Rows(flags.query)

			w := cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return pkgerrors.Wrapf(err, "failed to create %s", output)
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "html":
				err = report.WriteHTML(w, report.NewData(conf.ReportTitle(), rows, conf.MinHealth()))
			default:
				err = report.WriteCSV(w, rows)
			}
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to write %s", format)
			}

			if output != "-" {
				logrus.Infof("wrote %d rows to %s", len(rows), output)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", format, "output format, csv or html")
	cmd.Flags().StringVarP(&output, "output", "o", output, "output file, - for stdout")

	return cmd
}

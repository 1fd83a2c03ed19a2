package main

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/version"
)

func NewSummaryCommand() *cobra.Command {
	threshold := 0

	cmd := &cobra.Command{
		Use:     "summary",
		GroupID: gDashboard,
		Short:   "Show the fleet summary of a running dashboard server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}

			if v, err := c.Version(cmd.Context()); err == nil && v.Version != version.Version {
				logrus.WithFields(logrus.Fields{
					"clientVersion": version.Version,
					"serverVersion": v.Version,
				}).Warn("version mismatch between client and server")
			}

			s, err := c.Summary(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			printSummary(cmd, s)
			return nil
		},
	}

	cmd.Flags().IntVarP(&threshold, "threshold", "t", 0, "health threshold in percent (defaults to the server's)")

	return cmd
}

func NewRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "refresh",
		GroupID: gDashboard,
		Short:   "Make a running dashboard server refetch the fleet",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			s, err := c.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			logrus.Infof("fleet refreshed, generation %d", s.Generation)
			printSummary(cmd, s)
			return nil
		},
	}
}

func NewRowsCommand() *cobra.Command {
	var q fleet.Query
	threshold := 80

	cmd := &cobra.Command{
		Use:     "rows",
		GroupID: gDashboard,
		Short:   "List devices known to a running dashboard server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			rows, err := c.Rows(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printRows(cmd.OutOrStdout(), rows, threshold)
		},
	}

	f := cmd.Flags()
	f.StringVar(&q.Search, "search", "", "only show devices whose name, user or serial contains this")
	f.IntVar(&q.MaxHealth, "health-below", 0, "only show devices whose health is below this percentage")
	f.BoolVar(&q.NeedsService, "needs-service", false, "only show devices whose battery needs service")
	f.StringVar(&q.OlderThanOS, "older-than", "", "only show devices running a macOS version older than this")
	f.StringVar(&q.SortBy, "sort", fleet.SortHealth, "sort key")
	f.BoolVar(&q.Descending, "desc", false, "sort in descending order")
	f.IntVarP(&threshold, "threshold", "t", threshold, "mark devices below this health")

	return cmd
}

func NewScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "schedule",
		GroupID: gDashboard,
		Short:   "Show the report schedule of a running dashboard server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			st, err := c.Schedule(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("Schedule: %s\n", bold("%s", st.Schedule))
			cmd.Printf("  Running: %s\n", bool2Text(st.Running))
			if !st.NextRun.IsZero() {
				cmd.Printf("  Next run: %s\n", st.NextRun.Local().Format(time.DateTime))
			}
			if !st.LastRun.IsZero() {
				cmd.Printf("  Last run: %s\n", st.LastRun.Local().Format(time.DateTime))
			}
			if st.LastError != "" {
				cmd.Printf("  Last error: %s\n", warn("%s", st.LastError))
			}
			return nil
		},
	}
}

func printSummary(cmd *cobra.Command, s *fleet.Summary) {
	cmd.Println(bold("Fleet:"))
	if s.Generation == 0 {
		cmd.Println("  Not fetched yet.")
		return
	}
	cmd.Printf("  Refreshed: %s (generation %d)\n", s.RefreshedAt.Local().Format(time.DateTime), s.Generation)
	cmd.Printf("  Devices: %s, %d with battery data, %d without\n", bold("%d", s.Devices), s.WithBattery, s.NoBattery)
	if s.FailedRuns > 0 {
		cmd.Printf("  Failed script runs: %s\n", warn("%d", s.FailedRuns))
	}
	cmd.Println()

	cmd.Println(bold("Battery health:"))
	if s.MinHealth != nil {
		cmd.Printf("  Mean: %.1f%%, lowest: %d%%\n", s.MeanHealth, *s.MinHealth)
	}
	below := bold("%d", s.BelowThreshold)
	if s.BelowThreshold > 0 {
		below = warn("%d", s.BelowThreshold)
	}
	cmd.Printf("  Below %d%%: %s\n", s.Threshold, below)
	cmd.Printf("  Over cycle threshold: %d\n", s.OverCycles)
	cmd.Printf("  Needs service: %d\n", s.NeedsService)

	if len(s.ByCondition) > 0 {
		cmd.Println()
		cmd.Println(bold("Conditions:"))
		names := make([]string, 0, len(s.ByCondition))
		for k := range s.ByCondition {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			cmd.Printf("  %s: %d\n", k, s.ByCondition[k])
		}
	}
}

package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battfleet/pkg/dashboard"
	"github.com/charlie0129/battfleet/pkg/events"
	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/job"
	"github.com/charlie0129/battfleet/pkg/version"
)

func NewServeCommand() *cobra.Command {
	var (
		listen          string
		refreshInterval time.Duration
		withReport      bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: gDashboard,
		Short:   "Run the dashboard server in the foreground",
		Long: `Run the dashboard server in the foreground.

The server keeps the latest fleet in memory and serves it over HTTP for the
dashboard and the summary, refresh and rows commands. Listen on a unix
socket with unix:///path/to/socket.

With --with-report the mailed report also runs on the configured schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				conf.SetListen(listen)
			}

			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("battfleet dashboard starting")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			gc, _, err := newGraphClient(ctx, conf)
			if err != nil {
				return err
			}

			hub := events.NewHub()
			view := fleet.NewView(newAggregator(gc, conf), conf.Attribute(),
				fleet.WithEvents(hub),
				fleet.WithEnrichment(conf.Enrich()),
			)
			go events.Log(ctx, hub, logrus.StandardLogger())

			var sch *job.Scheduler
			if withReport {
				_, sch, err = newJob(ctx, conf)
				if err != nil {
					return err
				}
				if err := sch.Schedule(conf.Schedule()); err != nil {
					return err
				}
				sch.Start(ctx)
				defer sch.Stop()
			}

			srv := dashboard.NewServer(view, hub, dashboard.Options{
				MinHealth:       conf.MinHealth(),
				Title:           conf.ReportTitle(),
				RefreshInterval: refreshInterval,
				Scheduler:       sch,
			})

			l, err := srv.Listen(conf.Listen())
			if err != nil {
				return err
			}

			return srv.Serve(ctx, l)
		},
	}

	f := cmd.Flags()
	f.StringVar(&listen, "listen", "", "listen address, overrides the config")
	f.DurationVar(&refreshInterval, "refresh-interval", time.Hour, "refetch the fleet this often, 0 to disable")
	f.BoolVar(&withReport, "with-report", false, "also send the report on the configured schedule")

	return cmd
}

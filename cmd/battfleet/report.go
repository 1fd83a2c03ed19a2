package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battfleet/pkg/config"
	"github.com/charlie0129/battfleet/pkg/job"
)

func newJob(ctx context.Context, conf *config.File) (*job.Job, *job.Scheduler, error) {
	gc, ts, err := newGraphClient(ctx, conf)
	if err != nil {
		return nil, nil, err
	}

	j, err := job.New(newAggregator(gc, conf), gc, job.Options{
		Attribute:  conf.Attribute(),
		Recipients: conf.Recipients(),
		Sender:     conf.Sender(),
		MinHealth:  conf.MinHealth(),
		Title:      conf.ReportTitle(),
		Enrich:     conf.Enrich(),
	})
	if err != nil {
		return nil, nil, err
	}

	sch := job.NewScheduler(func(ctx context.Context) error {
		res, err := j.Run(ctx)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"rows":   res.Rows,
			"alerts": res.Alerts,
		}).Info("report sent")
		return nil
	}, job.TokenCheck(ts))
	sch.OnUpcoming = func(runAt time.Time) {
		logrus.WithField("at", runAt.Local().Format(time.DateTime)).Info("report run coming up")
	}
	sch.OnError = func(err error) {
		logrus.WithError(err).Error("scheduled report failed")
	}

	return j, sch, nil
}

func NewReportCommand() *cobra.Command {
	var (
		recipients []string
		sender     string
		attribute  string
		schedule   bool
		cronExpr   string
	)

	cmd := &cobra.Command{
		Use:     "report",
		GroupID: gFleet,
		Short:   "Mail the fleet battery health report",
		Long: `Fetch the fleet, render the battery health report and mail it to the
configured recipients with CSV and HTML attachments.

With --schedule the report is sent on the configured cron schedule until
interrupted. If a run fails, the recipients get a short failure notice
instead.`,
		Example: `  battfleet report --to it@example.com --from reports@example.com
  battfleet report --schedule
  battfleet report --schedule --cron '0 8 * * MON-FRI'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to load config")
			}
			if len(recipients) > 0 {
				conf.SetRecipients(recipients)
			}
			if sender != "" {
				conf.SetSender(sender)
			}
			if attribute != "" {
				conf.SetAttribute(attribute)
			}
			if cronExpr != "" {
				conf.SetSchedule(cronExpr)
			}
			if err := conf.Validate(); err != nil {
				return pkgerrors.Wrapf(err, "invalid config %s", configPath)
			}

			j, sch, err := newJob(cmd.Context(), conf)
			if err != nil {
				return err
			}

			if !schedule {
				res, err := j.Run(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("Report sent to %d recipient(s): %s devices, %s below %d%%.\n",
					len(conf.Recipients()), bold("%d", res.Rows), bold("%d", res.Alerts), conf.MinHealth())
				return nil
			}

			if err := sch.Schedule(conf.Schedule()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sch.Start(ctx)
			logrus.WithFields(logrus.Fields{
				"schedule": conf.Schedule(),
				"next":     sch.Status().NextRun.Local().Format(time.DateTime),
			}).Info("report scheduled")

			<-ctx.Done()
			sch.Stop()
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&recipients, "to", nil, "recipients, overrides the config")
	f.StringVar(&sender, "from", "", "mailbox to send from, overrides the config")
	f.StringVarP(&attribute, "attribute", "a", "", "custom attribute name or id, overrides the config")
	f.BoolVar(&schedule, "schedule", false, "keep running and send the report on schedule")
	f.StringVar(&cronExpr, "cron", "", "cron expression, overrides the configured schedule")

	return cmd
}

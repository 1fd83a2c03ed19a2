// Package job runs the fleet battery report: fetch the fleet, render it
// and mail it out, on demand or on a schedule.
package job

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/graph"
	"github.com/charlie0129/battfleet/pkg/report"
)

// Mailer sends mail from a mailbox. *graph.Client implements it.
type Mailer interface {
	SendMail(ctx context.Context, sender string, m graph.Message) error
}

// Options configures a Job.
type Options struct {
	Attribute  string
	Recipients []string
	Sender     string
	MinHealth  int
	Title      string

	// Enrich waits up to EnrichTimeout for directory data before
	// rendering. Rows are sent without it once the timeout passes.
	Enrich        bool
	EnrichTimeout time.Duration
}

// Result describes one successful run.
type Result struct {
	Rows   int
	Alerts int
}

// Job fetches the fleet and mails the report.
type Job struct {
	src    fleet.Source
	mailer Mailer
	opts   Options
	now    func() time.Time
}

func New(src fleet.Source, mailer Mailer, opts Options) (*Job, error) {
	if len(opts.Recipients) == 0 {
		return nil, pkgerrors.New("at least one recipient is required")
	}
	if opts.Sender == "" {
		return nil, pkgerrors.New("sender mailbox is required")
	}
	if strings.TrimSpace(opts.Attribute) == "" {
		return nil, pkgerrors.New("attribute is required")
	}
	if opts.MinHealth < 0 || opts.MinHealth > 100 {
		return nil, pkgerrors.Errorf("minimum health must be between 0 and 100, got %d", opts.MinHealth)
	}
	if opts.Title == "" {
		opts.Title = "Mac battery health"
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = 2 * time.Minute
	}

	return &Job{
		src:    src,
		mailer: mailer,
		opts:   opts,
		now:    time.Now,
	}, nil
}

// Run produces and sends one report. On failure it tries to send a failure
// notice to the same recipients and returns the original error.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	res, err := j.run(ctx)
	if err != nil {
		if nerr := j.notifyFailure(ctx, err); nerr != nil {
			logrus.WithError(nerr).Error("failed to send failure notice")
		}
		return nil, err
	}
	return res, nil
}

func (j *Job) run(ctx context.Context) (*Result, error) {
	log := logrus.WithField("attribute", j.opts.Attribute)

	rows, err := j.src.Fetch(ctx, j.opts.Attribute)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to fetch fleet")
	}
	if j.opts.Enrich {
		j.enrich(ctx, rows)
	}

	data := report.NewData(j.opts.Title, rows, j.opts.MinHealth)
	data.GeneratedAt = j.now()

	var csvBuf, htmlBuf bytes.Buffer
	if err := report.WriteCSV(&csvBuf, data.Rows); err != nil {
		return nil, err
	}
	if err := report.WriteHTML(&htmlBuf, data); err != nil {
		return nil, err
	}

	stamp := data.GeneratedAt.Format("2006-01-02")
	msg := graph.Message{
		Subject:  j.subject(data),
		HTMLBody: htmlBuf.String(),
		To:       j.opts.Recipients,
		Attachments: []graph.Attachment{
			{Name: "battery-health-" + stamp + ".csv", ContentType: "text/csv", Content: csvBuf.Bytes()},
			{Name: "battery-health-" + stamp + ".html", ContentType: "text/html", Content: htmlBuf.Bytes()},
		},
	}
	if err := j.mailer.SendMail(ctx, j.opts.Sender, msg); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to send report")
	}

	log.WithFields(logrus.Fields{
		"rows":       len(rows),
		"alerts":     len(data.Alerts),
		"recipients": len(j.opts.Recipients),
	}).Info("report sent")

	return &Result{Rows: len(rows), Alerts: len(data.Alerts)}, nil
}

// enrich merges whatever directory data arrives before the timeout.
func (j *Job) enrich(ctx context.Context, rows []fleet.Row) {
	ctx, cancel := context.WithTimeout(ctx, j.opts.EnrichTimeout)
	defer cancel()

	index := map[string][]int{}
	for i := range rows {
		if k := rows[i].UserKey(); k != "" {
			index[k] = append(index[k], i)
		}
	}

	results := j.src.Enrich(ctx, rows)
	for {
		select {
		case e, ok := <-results:
			if !ok {
				return
			}
			for _, i := range index[e.Key] {
				rows[i].Enrich(e.Info)
			}
		case <-ctx.Done():
			logrus.Warn("directory enrichment timed out, sending the report without it")
			return
		}
	}
}

func (j *Job) subject(d report.Data) string {
	s := fmt.Sprintf("%s: %d devices", j.opts.Title, d.Summary.Devices)
	if n := len(d.Alerts); n > 0 {
		s += fmt.Sprintf(", %d below %d%%", n, j.opts.MinHealth)
	}
	return s
}

var failureBody = template.Must(template.New("failure").Parse(`<p>The battery health report for <b>{{ .Attribute }}</b> could not be produced at {{ .At }}.</p>
<pre>{{ .Err }}</pre>`))

func (j *Job) notifyFailure(ctx context.Context, cause error) error {
	var body bytes.Buffer
	err := failureBody.Execute(&body, map[string]string{
		"Attribute": j.opts.Attribute,
		"At":        j.now().Format(time.RFC1123),
		"Err":       cause.Error(),
	})
	if err != nil {
		return err
	}

	// The report may have failed because ctx expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	return j.mailer.SendMail(ctx, j.opts.Sender, graph.Message{
		Subject:  j.opts.Title + ": report failed",
		HTMLBody: body.String(),
		To:       j.opts.Recipients,
	})
}

package main

import (
	"context"
	"strconv"

	"github.com/fatih/color"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/charlie0129/battfleet/pkg/client"
	"github.com/charlie0129/battfleet/pkg/config"
	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/graph"
)

func loadConfig() (*config.File, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to load config")
	}
	if err := conf.Validate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid config %s", configPath)
	}
	logrus.WithFields(conf.LogrusFields()).Debug("config loaded")
	return conf, nil
}

// newGraphClient builds an authorized Graph client from conf. The token
// source is returned too so schedulers can check it before running.
func newGraphClient(ctx context.Context, conf *config.File) (*graph.Client, oauth2.TokenSource, error) {
	ts, err := conf.Credentials().TokenSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	return graph.NewClient(conf.GraphURL(), ts), ts, nil
}

func newAggregator(gc *graph.Client, conf *config.File) *fleet.Aggregator {
	return fleet.NewAggregator(gc, fleet.WithEnrichConcurrency(conf.EnrichConcurrency()))
}

// apiClient returns a client of the dashboard server given by --server, or
// by the listen address in the config.
func apiClient() (*client.Client, error) {
	if serverAddr != "" {
		return client.NewClient(serverAddr), nil
	}
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to load config")
	}
	return client.NewClient(conf.Listen()), nil
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func warn(format string, a ...interface{}) string {
	return color.New(color.Bold, color.FgYellow).Sprintf(format, a...)
}

func optInt(v *int, unit string) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v) + unit
}

func optBool(v *bool) string {
	if v == nil {
		return "-"
	}
	return bool2Text(*v)
}

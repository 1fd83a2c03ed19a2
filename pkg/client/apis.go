package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/battfleet/pkg/dashboard"
	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/job"
)

func decode[T any](ret string, what string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

// Summary returns the fleet summary. A threshold of 0 uses the server's
// default.
func (c *Client) Summary(ctx context.Context, threshold int) (*fleet.Summary, error) {
	path := "/summary"
	if threshold > 0 {
		path += "?threshold=" + strconv.Itoa(threshold)
	}
	ret, err := c.Get(ctx, path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get summary")
	}
	return decode[fleet.Summary](ret, "summary")
}

// Refresh asks the server to refetch the fleet and returns the new summary.
func (c *Client) Refresh(ctx context.Context) (*fleet.Summary, error) {
	ret, err := c.Post(ctx, "/refresh", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to refresh")
	}
	return decode[fleet.Summary](ret, "summary")
}

// Rows returns the rows matching q.
func (c *Client) Rows(ctx context.Context, q fleet.Query) ([]fleet.Row, error) {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("search", q.Search)
	set("condition", q.Condition)
	set("sort", q.SortBy)
	set("olderThan", q.OlderThanOS)
	if q.MaxHealth > 0 {
		v.Set("maxHealth", strconv.Itoa(q.MaxHealth))
	}
	for k, b := range map[string]bool{
		"over":    q.OverThreshold,
		"service": q.NeedsService,
		"failed":  q.FailedOnly,
		"desc":    q.Descending,
	} {
		if b {
			v.Set(k, "true")
		}
	}

	path := "/rows"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	ret, err := c.Get(ctx, path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get rows")
	}
	rows, err := decode[[]fleet.Row](ret, "rows")
	if err != nil {
		return nil, err
	}
	return *rows, nil
}

// Schedule returns the status of the report scheduler.
func (c *Client) Schedule(ctx context.Context) (*job.Status, error) {
	ret, err := c.Get(ctx, "/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return decode[job.Status](ret, "schedule")
}

// Version returns the version of the server.
func (c *Client) Version(ctx context.Context) (*dashboard.VersionInfo, error) {
	ret, err := c.Get(ctx, "/version")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get version")
	}
	return decode[dashboard.VersionInfo](ret, "version")
}

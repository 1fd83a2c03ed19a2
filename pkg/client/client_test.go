package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charlie0129/battfleet/pkg/dashboard"
	"github.com/charlie0129/battfleet/pkg/events"
	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/telemetry"
	"github.com/charlie0129/battfleet/pkg/version"
)

type staticSource struct{}

func (staticSource) Fetch(context.Context, string) ([]fleet.Row, error) {
	return []fleet.Row{
		{DeviceName: "mac-a", RunState: fleet.RunStateSuccess, Battery: telemetry.Decode("95,100,4700,4941,3000,True,True,None,12600,Normal,False")},
		{DeviceName: "mac-b", RunState: fleet.RunStateSuccess, Battery: telemetry.Decode("61,1240,3000,4941,1500,False,False,300,11400,Replace Now,True")},
	}, nil
}

func (staticSource) Enrich(context.Context, []fleet.Row) <-chan fleet.Enrichment {
	ch := make(chan fleet.Enrichment)
	close(ch)
	return ch
}

func newServer() *dashboard.Server {
	hub := events.NewHub()
	view := fleet.NewView(staticSource{}, "Battery", fleet.WithEvents(hub), fleet.WithEnrichment(false))
	return dashboard.NewServer(view, hub, dashboard.Options{MinHealth: 80})
}

func TestClientOverTCP(t *testing.T) {
	srv := httptest.NewServer(newServer().Handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	sum, err := c.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Devices != 2 || sum.BelowThreshold != 1 {
		t.Errorf("summary = %+v", sum)
	}

	sum, err = c.Summary(ctx, 99)
	if err != nil || sum.BelowThreshold != 2 {
		t.Errorf("summary = %+v, %v", sum, err)
	}

	rows, err := c.Rows(ctx, fleet.Query{SortBy: fleet.SortHealth, MaxHealth: 90})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].DeviceName != "mac-b" || rows[0].ConditionOr("") != telemetry.ReplaceNow {
		t.Errorf("rows = %+v", rows)
	}

	v, err := c.Version(ctx)
	if err != nil || v.Version != version.Version {
		t.Errorf("version = %+v, %v", v, err)
	}

	if _, err := c.Schedule(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("schedule without scheduler: %v", err)
	}
}

func TestClientOverUnixSocket(t *testing.T) {
	// Socket paths are length limited, so avoid the long t.TempDir.
	dir, err := os.MkdirTemp("", "bf")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	addr := dashboard.UnixPrefix + filepath.Join(dir, "s.sock")

	s := newServer()
	l, err := s.Listen(addr)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	c := NewClient(addr)
	deadline := time.Now().Add(2 * time.Second)
	for {
		sum, err := c.Summary(context.Background(), 0)
		if err == nil && sum.Generation > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never refreshed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestClientNotRunning(t *testing.T) {
	c := NewClient(dashboard.UnixPrefix + "/nonexistent/battfleet.sock")
	if _, err := c.Version(context.Background()); !errors.Is(err, ErrDaemonNotRunning) {
		t.Errorf("err = %v, want ErrDaemonNotRunning", err)
	}
}

package fleet

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charlie0129/battfleet/pkg/events"
	"github.com/charlie0129/battfleet/pkg/telemetry"
)

type fakeSource struct {
	fetch    func(ctx context.Context) ([]Row, error)
	enriched []Enrichment
}

func (f *fakeSource) Fetch(ctx context.Context, _ string) ([]Row, error) {
	return f.fetch(ctx)
}

func (f *fakeSource) Enrich(_ context.Context, _ []Row) <-chan Enrichment {
	ch := make(chan Enrichment, len(f.enriched))
	for _, e := range f.enriched {
		ch <- e
	}
	close(ch)
	return ch
}

func decoded(name, upn, record string) Row {
	return Row{
		DeviceName:        name,
		UserPrincipalName: upn,
		RunState:          RunStateSuccess,
		ResultMessage:     record,
		Battery:           telemetry.Decode(record),
	}
}

func sampleRows() []Row {
	failed := decoded("mac-e", "e@example.com", "None")
	failed.RunState = "fail"
	failed.OSVersion = "12.7.4"
	rows := []Row{
		decoded("mac-a", "a@example.com", "85,423,4200,4941,3890,True,False,182,12100,Normal,False"),
		decoded("mac-b", "b@example.com", "62,1200,3000,4800,1000,False,True,None,11500,Replace Soon,True"),
		decoded("mac-c", "c@example.com", "None"),
		decoded("mac-d", "", "91,80,4500,4941,4000,False,True,None,12500,Service Battery,False"),
		failed,
	}
	rows[0].OSVersion = "14.4.1 (23E224)"
	rows[1].OSVersion = "13.6"
	rows[3].OSVersion = "15.0"
	return rows
}

func TestRefreshAndQuery(t *testing.T) {
	v := NewView(&fakeSource{fetch: func(context.Context) ([]Row, error) { return sampleRows(), nil }}, "Battery", WithEnrichment(false))
	if v.Generation() != 0 {
		t.Fatalf("fresh view should be at generation 0")
	}
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v.Generation() != 1 || v.RefreshedAt().IsZero() {
		t.Errorf("generation = %d", v.Generation())
	}

	names := func(rows []Row) string {
		var s []string
		for _, r := range rows {
			s = append(s, r.DeviceName)
		}
		return strings.Join(s, ",")
	}

	tests := []struct {
		name string
		q    Query
		want string
	}{
		{"all in arrival order", Query{}, "mac-a,mac-b,mac-c,mac-d,mac-e"},
		{"search", Query{Search: "B@EXAMPLE"}, "mac-b"},
		{"condition", Query{Condition: "replace soon"}, "mac-b"},
		{"below health", Query{MaxHealth: 80}, "mac-b"},
		{"over threshold", Query{OverThreshold: true}, "mac-b"},
		{"needs service", Query{NeedsService: true}, "mac-b,mac-d"},
		{"failed only", Query{FailedOnly: true}, "mac-e"},
		{"health ascending, missing last", Query{SortBy: SortHealth}, "mac-b,mac-a,mac-d,mac-c,mac-e"},
		{"health descending, missing last", Query{SortBy: SortHealth, Descending: true}, "mac-d,mac-a,mac-b,mac-c,mac-e"},
		{"cycles", Query{SortBy: SortCycles}, "mac-d,mac-a,mac-b,mac-c,mac-e"},
		{"user, missing last", Query{SortBy: SortUser, Descending: true}, "mac-e,mac-c,mac-b,mac-a,mac-d"},
		{"older than os", Query{OlderThanOS: "14.0"}, "mac-b,mac-e"},
		{"bad os version matches nothing", Query{OlderThanOS: "latest"}, ""},
		{"os ascending, missing last", Query{SortBy: SortOS}, "mac-e,mac-b,mac-a,mac-d,mac-c"},
		{"unknown sort key keeps order", Query{SortBy: "nope"}, "mac-a,mac-b,mac-c,mac-d,mac-e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := names(v.Rows(tt.q)); got != tt.want {
				t.Errorf("Rows() = %s, want %s", got, tt.want)
			}
		})
	}

	// Rows returns copies.
	rows := v.Rows(Query{})
	rows[0].DeviceName = "changed"
	if v.Rows(Query{})[0].DeviceName != "mac-a" {
		t.Errorf("Rows must not expose internal state")
	}
}

func TestSummary(t *testing.T) {
	s := Summarize(sampleRows(), 80)
	if s.Devices != 5 || s.WithBattery != 3 || s.NoBattery != 2 {
		t.Errorf("counts = %+v", s)
	}
	if s.FailedRuns != 1 || s.BelowThreshold != 1 || s.OverCycles != 1 || s.NeedsService != 2 {
		t.Errorf("flags = %+v", s)
	}
	if s.MinHealth == nil || *s.MinHealth != 62 {
		t.Errorf("min health = %v", s.MinHealth)
	}
	if want := float64(85+62+91) / 3; s.MeanHealth != want {
		t.Errorf("mean health = %v, want %v", s.MeanHealth, want)
	}
	if s.ByCondition["Normal"] != 1 || s.ByCondition["Replace Soon"] != 1 || s.ByCondition["Service Battery"] != 1 {
		t.Errorf("by condition = %v", s.ByCondition)
	}

	empty := Summarize(nil, 80)
	if empty.MinHealth != nil || empty.MeanHealth != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestStaleRefreshDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	src := &fakeSource{fetch: func(context.Context) ([]Row, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
			return []Row{{DeviceName: "old"}}, nil
		}
		return []Row{{DeviceName: "new"}}, nil
	}}
	v := NewView(src, "Battery", WithEnrichment(false))

	done := make(chan error)
	go func() { done <- v.Refresh(context.Background()) }()
	<-entered

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Errorf("old refresh: err = %v, want ErrStale", err)
	}
	rows := v.Rows(Query{})
	if len(rows) != 1 || rows[0].DeviceName != "new" || v.Generation() != 2 {
		t.Errorf("stale completion overwrote newer rows: %+v gen %d", rows, v.Generation())
	}
}

func TestStaleFailureNotRecorded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	src := &fakeSource{fetch: func(context.Context) ([]Row, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
			return nil, errors.New("graph down")
		}
		return []Row{{DeviceName: "new"}}, nil
	}}
	v := NewView(src, "Battery", WithEnrichment(false))

	done := make(chan error)
	go func() { done <- v.Refresh(context.Background()) }()
	<-entered

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-done; err == nil {
		t.Errorf("old refresh must still report its error")
	}
	if err := v.LastError(); err != nil {
		t.Errorf("LastError() = %v after a newer refresh committed", err)
	}
	if v.Generation() != 2 {
		t.Errorf("generation = %d, want 2", v.Generation())
	}
}

func TestRefreshFailureKeepsRows(t *testing.T) {
	fail := false
	src := &fakeSource{fetch: func(context.Context) ([]Row, error) {
		if fail {
			return nil, errors.New("graph down")
		}
		return sampleRows(), nil
	}}
	hub := events.NewHub()
	sub := hub.Subscribe()
	v := NewView(src, "Battery", WithEnrichment(false), WithEvents(hub))

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	fail = true
	if err := v.Refresh(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if len(v.Rows(Query{})) != 5 || v.LastError() == nil {
		t.Errorf("failed refresh must keep the previous rows")
	}

	var names []string
	for len(sub) > 0 {
		names = append(names, (<-sub).Name)
	}
	want := []string{events.RefreshStarted, events.RefreshCompleted, events.RefreshStarted, events.RefreshFailed}
	if strings.Join(names, " ") != strings.Join(want, " ") {
		t.Errorf("events = %v, want %v", names, want)
	}
}

func TestEnrichmentMerged(t *testing.T) {
	src := &fakeSource{
		fetch: func(context.Context) ([]Row, error) { return sampleRows(), nil },
		enriched: []Enrichment{
			{Key: "a@example.com", Info: UserInfo{Department: "Finance"}},
		},
	}
	hub := events.NewHub()
	sub := hub.Subscribe()
	v := NewView(src, "Battery", WithEvents(hub))

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for enriched := false; !enriched; {
		select {
		case ev := <-sub:
			enriched = ev.Name == events.Enriched
		case <-deadline:
			t.Fatal("no enrichment event")
		}
	}

	rows := v.Rows(Query{Search: "finance"})
	if len(rows) != 1 || rows[0].DeviceName != "mac-a" {
		t.Fatalf("rows = %+v", rows)
	}

	// A manual upsert is additive and idempotent.
	for i := 0; i < 2; i++ {
		if n := v.ApplyEnrichment(Enrichment{Key: "a@example.com", Info: UserInfo{Manager: "Carol"}}); n != 1 {
			t.Errorf("rows touched = %d", n)
		}
	}
	r := v.Rows(Query{Search: "mac-a"})[0]
	if r.Department != "Finance" || r.Manager != "Carol" {
		t.Errorf("row = %+v", r.UserInfo)
	}
	if n := v.ApplyEnrichment(Enrichment{Info: UserInfo{Manager: "x"}}); n != 0 {
		t.Errorf("empty key must not match rows")
	}

	// Known users are applied to the rows of the next refresh right away.
	v.enrich = false
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	r = v.Rows(Query{Search: "mac-a"})[0]
	if r.Department != "Finance" || r.Manager != "Carol" {
		t.Errorf("cached enrichment lost on refresh: %+v", r.UserInfo)
	}
}

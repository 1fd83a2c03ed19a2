package fleet

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charlie0129/battfleet/pkg/graph"
	"github.com/charlie0129/battfleet/pkg/telemetry"
)

type fakeAPI struct {
	scripts    []graph.AttributeScript
	scriptsErr error
	listCalls  int32

	pages   [][]graph.RunState
	pageErr error

	users    map[string]graph.User
	managers map[string]graph.User
	userErr  map[string]error

	userCalls   int32
	inFlight    int32
	maxInFlight int32
	delay       time.Duration
}

func (f *fakeAPI) ListAttributeScripts(context.Context) ([]graph.AttributeScript, error) {
	atomic.AddInt32(&f.listCalls, 1)
	return f.scripts, f.scriptsErr
}

func (f *fakeAPI) ListRunStates(_ context.Context, _ string, fn func([]graph.RunState) error) error {
	for _, p := range f.pages {
		if err := fn(p); err != nil {
			return err
		}
	}
	return f.pageErr
}

func (f *fakeAPI) GetUser(_ context.Context, upn string) (*graph.User, error) {
	atomic.AddInt32(&f.userCalls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if err := f.userErr[upn]; err != nil {
		return nil, err
	}
	u, ok := f.users[upn]
	if !ok {
		return nil, &graph.StatusError{StatusCode: http.StatusNotFound}
	}
	return &u, nil
}

func (f *fakeAPI) GetManager(_ context.Context, upn string) (*graph.User, error) {
	m, ok := f.managers[upn]
	if !ok {
		return nil, &graph.StatusError{StatusCode: http.StatusNotFound}
	}
	return &m, nil
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func runState(id, device, upn, msg string) graph.RunState {
	return graph.RunState{
		ID:                      id,
		RunState:                "success",
		ResultMessage:           msg,
		LastStateUpdateDateTime: ts("2024-05-01T10:00:00Z"),
		ManagedDevice: &graph.ManagedDevice{
			ID:                "dev-" + id,
			DeviceName:        device,
			UserPrincipalName: upn,
		},
	}
}

func TestResolve(t *testing.T) {
	api := &fakeAPI{
		scripts: []graph.AttributeScript{
			{ID: "old", DisplayName: "Battery Health (old)", CreatedDateTime: *ts("2022-01-01T00:00:00Z")},
			{ID: "new", DisplayName: "Battery Health v2", CreatedDateTime: *ts("2024-01-01T00:00:00Z")},
			{ID: "exact", DisplayName: "Battery", CreatedDateTime: *ts("2020-01-01T00:00:00Z")},
			{ID: "other", DisplayName: "FileVault status", CreatedDateTime: *ts("2025-01-01T00:00:00Z")},
		},
	}
	a := NewAggregator(api)

	tests := []struct {
		name       string
		identifier string
		want       string
		wantErr    error
	}{
		{"uuid passes through", "0b5c1a3e-8f2d-4c6b-9a1e-2d3f4a5b6c7d", "0b5c1a3e-8f2d-4c6b-9a1e-2d3f4a5b6c7d", nil},
		{"uuid is normalized", "0B5C1A3E-8F2D-4C6B-9A1E-2D3F4A5B6C7D", "0b5c1a3e-8f2d-4c6b-9a1e-2d3f4a5b6c7d", nil},
		{"exact display name wins", "Battery", "exact", nil},
		{"substring prefers newest", "battery health", "new", nil},
		{"substring case insensitive", "FILEVAULT", "other", nil},
		{"no match", "thermal", "", ErrNotFound},
		{"empty", "  ", "", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Resolve(context.Background(), tt.identifier)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.identifier, got, tt.want)
			}
		})
	}
}

func TestResolveUUIDSkipsListing(t *testing.T) {
	api := &fakeAPI{scriptsErr: errors.New("must not be called")}
	if _, err := NewAggregator(api).Resolve(context.Background(), "0b5c1a3e-8f2d-4c6b-9a1e-2d3f4a5b6c7d"); err != nil {
		t.Fatal(err)
	}
	if api.listCalls != 0 {
		t.Errorf("listed scripts %d times for a uuid", api.listCalls)
	}
}

func TestFetch(t *testing.T) {
	noDevice := runState("4", "", "", "85,423,4200,4941,3890,True,False,182,12100,Normal,False")
	noDevice.ManagedDevice = nil
	noTime := runState("5", "mac-5", "", "None")
	noTime.LastStateUpdateDateTime = nil
	noState := runState("6", "mac-6", "", "None")
	noState.RunState = ""
	noID := runState("", "mac-7", "", "None")

	api := &fakeAPI{
		pages: [][]graph.RunState{
			{
				runState("1", "mac-1", "a@example.com", "85,423,4200,4941,3890,True,False,182,12100,Normal,False"),
				noDevice,
				runState("2", "mac-2", "b@example.com", "None"),
			},
			{
				noTime, noState, noID,
				runState("3", "mac-3", "c@example.com", "72,1100,3500,4800,1200,False,True,None,11800,Replace Soon"),
			},
		},
	}

	rows, err := NewAggregator(api).Fetch(context.Background(), "0b5c1a3e-8f2d-4c6b-9a1e-2d3f4a5b6c7d")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	var names []string
	for _, r := range rows {
		names = append(names, r.DeviceName)
	}
	if got := strings.Join(names, ","); got != "mac-1,mac-2,mac-3" {
		t.Fatalf("rows = %s, want mac-1,mac-2,mac-3", got)
	}

	if h, _ := rows[0].Health(); h != 85 || !rows[0].Succeeded() {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].HasData() {
		t.Errorf("no-battery row should have no battery data")
	}
	if rows[2].ConditionOr("") != telemetry.ReplaceSoon || rows[2].OverThreshold != nil {
		t.Errorf("row 2 = %s", telemetry.Encode(&rows[2].Battery))
	}
	if rows[2].DeviceID != "dev-3" || !rows[2].LastUpdate.Equal(*ts("2024-05-01T10:00:00Z")) {
		t.Errorf("identity not joined: %+v", rows[2])
	}
}

func TestFetchAbortsOnPageError(t *testing.T) {
	api := &fakeAPI{
		pages:   [][]graph.RunState{{runState("1", "mac-1", "", "None")}},
		pageErr: &graph.StatusError{StatusCode: http.StatusBadGateway},
	}
	rows, err := NewAggregator(api).Fetch(context.Background(), "0b5c1a3e-8f2d-4c6b-9a1e-2d3f4a5b6c7d")
	if err == nil || rows != nil {
		t.Fatalf("expected the whole fetch to fail, got %d rows, %v", len(rows), err)
	}
	var se *graph.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Errorf("status should survive wrapping: %v", err)
	}
}

func TestEnrich(t *testing.T) {
	api := &fakeAPI{
		users: map[string]graph.User{
			"a@example.com": {DisplayName: "Alice", Department: "Finance"},
			"b@example.com": {DisplayName: "Bob"},
		},
		managers: map[string]graph.User{
			"a@example.com": {DisplayName: "Carol"},
		},
		userErr: map[string]error{
			"broken@example.com": errors.New("boom"),
		},
	}

	rows := []Row{
		{DeviceName: "1", UserPrincipalName: "a@example.com"},
		{DeviceName: "2", UserPrincipalName: "A@Example.com"},
		{DeviceName: "3", UserPrincipalName: "b@example.com"},
		{DeviceName: "4", UserPrincipalName: "broken@example.com"},
		{DeviceName: "5"},
	}

	got := map[string]UserInfo{}
	for e := range NewAggregator(api).Enrich(context.Background(), rows) {
		got[e.Key] = e.Info
	}

	if n := atomic.LoadInt32(&api.userCalls); n != 3 {
		t.Errorf("user lookups = %d, want 3 (deduplicated)", n)
	}
	if len(got) != 2 {
		t.Fatalf("enrichments = %v, want 2", got)
	}
	if a := got["a@example.com"]; a.UserDisplayName != "Alice" || a.Manager != "Carol" || a.Department != "Finance" {
		t.Errorf("alice = %+v", a)
	}
	if b := got["b@example.com"]; b.UserDisplayName != "Bob" || b.Manager != "" {
		t.Errorf("bob = %+v", b)
	}
}

func TestEnrichConcurrencyBound(t *testing.T) {
	api := &fakeAPI{users: map[string]graph.User{}, delay: 20 * time.Millisecond}
	var rows []Row
	for i := 0; i < 12; i++ {
		upn := string(rune('a'+i)) + "@example.com"
		api.users[upn] = graph.User{DisplayName: upn}
		rows = append(rows, Row{UserPrincipalName: upn})
	}

	n := 0
	for range NewAggregator(api, WithEnrichConcurrency(2)).Enrich(context.Background(), rows) {
		n++
	}
	if n != 12 {
		t.Errorf("enrichments = %d, want 12", n)
	}
	if m := atomic.LoadInt32(&api.maxInFlight); m > 2 {
		t.Errorf("max concurrent lookups = %d, want <= 2", m)
	}
}

func TestEnrichCancelled(t *testing.T) {
	api := &fakeAPI{users: map[string]graph.User{"a@example.com": {}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range NewAggregator(api).Enrich(ctx, []Row{{UserPrincipalName: "a@example.com"}}) {
		}
	}()
	wg.Wait()

	if n := atomic.LoadInt32(&api.userCalls); n != 0 {
		t.Errorf("lookups after cancellation = %d", n)
	}
}

func TestRowEnrich(t *testing.T) {
	r := Row{UserPrincipalName: "a@example.com"}
	r.Enrich(UserInfo{Department: "Finance"})
	r.Enrich(UserInfo{Manager: "Carol"})
	r.Enrich(UserInfo{Manager: "Carol"})
	r.Enrich(UserInfo{})

	if r.Department != "Finance" || r.Manager != "Carol" {
		t.Errorf("enrichment must be additive, got %+v", r.UserInfo)
	}
	if (Row{}).UserKey() != "" || r.UserKey() != "a@example.com" {
		t.Errorf("unexpected user keys")
	}
}

package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingSleep records requested delays instead of sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordingSleep) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *recordingSleep) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	rs := &recordingSleep{}
	opts = append([]Option{WithSleep(rs.Sleep)}, opts...)
	return NewClient(srv.URL, nil, opts...), rs
}

func equalDelays(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestListRunStatesPagination(t *testing.T) {
	var requests int32
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/deviceManagement/deviceCustomAttributeShellScripts/abc/deviceRunStates", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if !strings.Contains(r.URL.Query().Get("$expand"), "managedDevice") {
			t.Errorf("missing managedDevice expansion: %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"3","runState":"success","resultMessage":"None"}]}`)
			return
		}
		fmt.Fprintf(w, `{"value":[{"id":"1","runState":"success"},{"id":"2","runState":"fail"}],"@odata.nextLink":"%s"}`,
			srvURL+"/deviceManagement/deviceCustomAttributeShellScripts/abc/deviceRunStates?page=2&$expand=managedDevice")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(srv.URL, nil)

	var ids []string
	pages := 0
	err := c.ListRunStates(context.Background(), "abc", func(p []RunState) error {
		pages++
		for _, rs := range p {
			ids = append(ids, rs.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ListRunStates: %v", err)
	}

	if got := strings.Join(ids, ","); got != "1,2,3" {
		t.Errorf("ids = %s, want 1,2,3 in arrival order", got)
	}
	if pages != 2 {
		t.Errorf("pages = %d, want 2", pages)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestPaginationLoop(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"value":[],"@odata.nextLink":"%s%s"}`, srvURL, r.URL.RequestURI())
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(srv.URL, nil)
	err := listPages(context.Background(), c, srv.URL+"/loop", func([]RunState) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "loop") {
		t.Errorf("expected a pagination loop error, got %v", err)
	}
}

func TestRetryAfterHonoured(t *testing.T) {
	var requests int32
	c, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))

	if _, err := c.Send(context.Background(), http.MethodGet, "/x", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("requests = %d, want exactly one retry", n)
	}
	if d := rs.Delays(); len(d) != 1 || d[0] < 5*time.Second {
		t.Errorf("delays = %v, want one delay of at least 5s", d)
	}
}

func TestRateLimitGivesUp(t *testing.T) {
	var requests int32
	c, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Send(context.Background(), http.MethodGet, "/x", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests || !se.Temporary() {
		t.Errorf("expected a temporary 429 StatusError, got %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
	if d := rs.Delays(); len(d) != 2 {
		t.Errorf("delays = %v, want 2", d)
	}
}

func TestRateLimitExponentialBackoff(t *testing.T) {
	var requests int32
	policy := DefaultRetryPolicy
	policy.RateLimitAttempts = 5
	policy.MaxDelay = 5 * time.Second

	c, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&requests, 1) < 5 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{}`)
	}), WithRetryPolicy(policy))

	if _, err := c.Send(context.Background(), http.MethodGet, "/x", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	if d := rs.Delays(); !equalDelays(d, want) {
		t.Errorf("delays = %v, want %v", d, want)
	}
}

func TestUnavailableLadder(t *testing.T) {
	var requests int32
	c, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Send(context.Background(), http.MethodGet, "/x", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 4 {
		t.Errorf("requests = %d, want 4", n)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}
	if d := rs.Delays(); !equalDelays(d, want) {
		t.Errorf("delays = %v, want %v", d, want)
	}
}

func TestTerminalStatus(t *testing.T) {
	var requests int32
	c, rs := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"Forbidden"}}`)
	}))

	_, err := c.Send(context.Background(), http.MethodGet, "/x", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusForbidden || se.Temporary() {
		t.Errorf("unexpected status error: %v", se)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error should carry the status: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 || len(rs.Delays()) != 0 {
		t.Errorf("terminal status must not be retried")
	}
}

func TestSleepInterruptedByContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Send(ctx, http.MethodGet, "/x", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("backoff was not interrupted")
	}
}

func TestRetryAfterHTTPDate(t *testing.T) {
	c := NewClient("http://unused", nil)
	d := c.rateLimitDelay(time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat), 1)
	if d <= 0 || d > 11*time.Second {
		t.Errorf("delay = %v", d)
	}
	if d := c.rateLimitDelay("3600", 1); d != DefaultRetryPolicy.MaxDelay {
		t.Errorf("delay = %v, want capped at %v", d, DefaultRetryPolicy.MaxDelay)
	}
}

func TestListAttributeScripts(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != scriptsPath {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"value":[{"id":"a","displayName":"Battery Health","createdDateTime":"2024-01-02T03:04:05Z"}]}`)
	}))

	scripts, err := c.ListAttributeScripts(context.Background())
	if err != nil {
		t.Fatalf("ListAttributeScripts: %v", err)
	}
	if len(scripts) != 1 || scripts[0].DisplayName != "Battery Health" || scripts[0].CreatedDateTime.Year() != 2024 {
		t.Errorf("unexpected scripts: %+v", scripts)
	}
}

func TestGetUserAndManager(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/jane@example.com":
			fmt.Fprint(w, `{"id":"u1","displayName":"Jane","department":"Finance"}`)
		case "/users/jane@example.com/manager":
			fmt.Fprint(w, `{"id":"m1","displayName":"Boss"}`)
		default:
			http.NotFound(w, r)
		}
	}))

	u, err := c.GetUser(context.Background(), "jane@example.com")
	if err != nil || u.Department != "Finance" {
		t.Fatalf("GetUser = %+v, %v", u, err)
	}
	m, err := c.GetManager(context.Background(), "jane@example.com")
	if err != nil || m.DisplayName != "Boss" {
		t.Fatalf("GetManager = %+v, %v", m, err)
	}
	if _, err := c.GetUser(context.Background(), "nobody"); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSendMail(t *testing.T) {
	var got sendMailRequest
	var path string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if !strings.Contains(string(b), base64.StdEncoding.EncodeToString([]byte("a,b\n"))) {
			t.Errorf("attachment must be base64 encoded: %s", b)
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	err := c.SendMail(context.Background(), "reports@example.com", Message{
		Subject:  "Battery report",
		HTMLBody: "<p>hi</p>",
		To:       []string{"a@example.com", "b@example.com"},
		Attachments: []Attachment{
			{Name: "report.csv", ContentType: "text/csv", Content: []byte("a,b\n")},
		},
	})
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}
	if path != "/users/reports@example.com/sendMail" {
		t.Errorf("path = %s", path)
	}
	if len(got.Message.ToRecipients) != 2 || got.Message.Body.ContentType != "HTML" {
		t.Errorf("unexpected message: %+v", got.Message)
	}
	if len(got.Message.Attachments) != 1 || got.Message.Attachments[0].ODataType != "#microsoft.graph.fileAttachment" {
		t.Errorf("unexpected attachments: %+v", got.Message.Attachments)
	}

	if err := c.SendMail(context.Background(), "reports@example.com", Message{}); err == nil {
		t.Errorf("expected an error without recipients")
	}
}

func TestCredentials(t *testing.T) {
	if _, err := (Credentials{TenantID: "t"}).TokenSource(context.Background()); err == nil {
		t.Errorf("expected an error for incomplete credentials")
	}

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tenant/oauth2/v2.0/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"secret-token","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	var auth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{}`)
	}))
	defer api.Close()

	ts, err := Credentials{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		Authority:    tokenSrv.URL,
	}.TokenSource(context.Background())
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}

	c := NewClient(api.URL, ts)
	if _, err := c.Send(context.Background(), http.MethodGet, "/me", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", auth)
	}
}

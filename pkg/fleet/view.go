package fleet

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battfleet/pkg/events"
	"github.com/charlie0129/battfleet/pkg/utils/osver"
)

// ErrStale is returned by Refresh when a newer refresh committed first.
var ErrStale = pkgerrors.New("refresh superseded by a newer one")

// Source produces the rows of one fetch cycle. *Aggregator implements it.
type Source interface {
	Fetch(ctx context.Context, identifier string) ([]Row, error)
	Enrich(ctx context.Context, rows []Row) <-chan Enrichment
}

// View holds the rows of the latest fetch cycle. Rows are replaced as a
// whole on refresh; only directory fields change in between.
type View struct {
	src       Source
	attribute string
	hub       *events.Hub
	enrich    bool

	mu          sync.RWMutex
	started     uint64
	committed   uint64
	rows        []Row
	users       map[string]UserInfo
	refreshedAt time.Time
	lastErr     error
}

// ViewOption configures a View.
type ViewOption func(*View)

// WithEvents publishes refresh and enrichment events on hub.
func WithEvents(hub *events.Hub) ViewOption {
	return func(v *View) {
		v.hub = hub
	}
}

// WithEnrichment toggles directory enrichment after each refresh.
func WithEnrichment(enabled bool) ViewOption {
	return func(v *View) {
		v.enrich = enabled
	}
}

// NewView returns an empty view of the fleet reporting attribute.
func NewView(src Source, attribute string, opts ...ViewOption) *View {
	v := &View{
		src:       src,
		attribute: attribute,
		enrich:    true,
		users:     map[string]UserInfo{},
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Refresh fetches the fleet and replaces the rows. Refreshes may overlap;
// a completion older than the last committed one is discarded with
// ErrStale. Enrichment, if enabled, continues in the background after
// Refresh returns.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.started++
	gen := v.started
	v.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"generation": gen,
		"attribute":  v.attribute,
	})
	log.Debug("refreshing fleet")
	v.hub.Publish(events.RefreshStarted, events.RefreshEvent{
		Generation: gen,
		Attribute:  v.attribute,
		Ts:         time.Now().Unix(),
	})

	rows, err := v.src.Fetch(ctx, v.attribute)
	if err != nil {
		v.mu.Lock()
		// A newer refresh already committed; its outcome is what counts.
		if gen > v.committed {
			v.lastErr = err
		}
		v.mu.Unlock()
		v.fail(gen, err, "error")
		return err
	}

	v.mu.Lock()
	if gen <= v.committed {
		v.mu.Unlock()
		v.fail(gen, ErrStale, "stale")
		return ErrStale
	}
	for i := range rows {
		if u, ok := v.users[rows[i].UserKey()]; ok {
			rows[i].Enrich(u)
		}
	}
	v.rows = rows
	v.committed = gen
	v.refreshedAt = time.Now()
	v.lastErr = nil
	v.mu.Unlock()

	rowsGauge.Set(float64(len(rows)))
	refreshesTotal.WithLabelValues("ok").Inc()
	log.WithField("rows", len(rows)).Info("fleet refreshed")
	v.hub.Publish(events.RefreshCompleted, events.RefreshEvent{
		Generation: gen,
		Attribute:  v.attribute,
		Rows:       len(rows),
		Ts:         time.Now().Unix(),
	})

	if v.enrich {
		snapshot := append([]Row(nil), rows...)
		results := v.src.Enrich(context.WithoutCancel(ctx), snapshot)
		go func() {
			for e := range results {
				n := v.ApplyEnrichment(e)
				v.hub.Publish(events.Enriched, events.EnrichedEvent{
					Generation: gen,
					User:       e.Key,
					Rows:       n,
				})
			}
		}()
	}

	return nil
}

func (v *View) fail(gen uint64, err error, outcome string) {
	refreshesTotal.WithLabelValues(outcome).Inc()
	logrus.WithFields(logrus.Fields{
		"generation": gen,
		"attribute":  v.attribute,
	}).WithError(err).Warn("fleet refresh did not commit")
	v.hub.Publish(events.RefreshFailed, events.RefreshEvent{
		Generation: gen,
		Attribute:  v.attribute,
		Error:      err.Error(),
		Ts:         time.Now().Unix(),
	})
}

// ApplyEnrichment merges e into every row of its user and remembers it for
// later refreshes. It returns the number of rows touched.
func (v *View) ApplyEnrichment(e Enrichment) int {
	if e.Key == "" {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	u := v.users[e.Key]
	u.Merge(e.Info)
	v.users[e.Key] = u

	n := 0
	for i := range v.rows {
		if v.rows[i].UserKey() == e.Key {
			v.rows[i].Enrich(e.Info)
			n++
		}
	}
	return n
}

// Generation returns the generation of the committed rows. Zero means the
// view was never refreshed.
func (v *View) Generation() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.committed
}

// RefreshedAt returns when rows were last committed.
func (v *View) RefreshedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshedAt
}

// LastError returns the error of the last refresh, if it failed.
func (v *View) LastError() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

// Sort keys accepted by Query.SortBy.
const (
	SortDevice     = "device"
	SortUser       = "user"
	SortHealth     = "health"
	SortCycles     = "cycles"
	SortCondition  = "condition"
	SortUpdated    = "updated"
	SortDepartment = "department"
	SortOS         = "os"
)

// Query filters and orders rows. The zero Query returns every row in
// arrival order.
type Query struct {
	// Search is matched case-insensitively against device, user, serial
	// and department.
	Search string
	// Condition keeps rows with this condition label.
	Condition string
	// MaxHealth keeps rows whose health is known and below this value.
	MaxHealth int
	// OverThreshold keeps rows flagged over the cycle threshold.
	OverThreshold bool
	// NeedsService keeps rows whose condition asks for service.
	NeedsService bool
	// FailedOnly keeps rows whose script run did not succeed.
	FailedOnly bool
	// OlderThanOS keeps rows whose macOS version is known and older than
	// this one, e.g. "14.0".
	OlderThanOS string

	SortBy     string
	Descending bool
}

// Rows returns a copy of the rows matching q.
func (v *View) Rows(q Query) []Row {
	v.mu.RLock()
	out := make([]Row, 0, len(v.rows))
	for _, r := range v.rows {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	v.mu.RUnlock()

	SortRows(out, q.SortBy, q.Descending)
	return out
}

func (q Query) matches(r Row) bool {
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		found := false
		for _, s := range []string{r.DeviceName, r.UserPrincipalName, r.SerialNumber, r.UserDisplayName, r.Department} {
			if strings.Contains(strings.ToLower(s), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Condition != "" {
		if r.Condition == nil || !strings.EqualFold(string(*r.Condition), q.Condition) {
			return false
		}
	}
	if q.MaxHealth > 0 {
		h, ok := r.Health()
		if !ok || h >= q.MaxHealth {
			return false
		}
	}
	if q.OverThreshold && !r.IsOverThreshold() {
		return false
	}
	if q.NeedsService && (r.Condition == nil || !r.Condition.NeedsService()) {
		return false
	}
	if q.FailedOnly && r.Succeeded() {
		return false
	}
	if q.OlderThanOS != "" {
		limit, err := osver.Parse(q.OlderThanOS)
		if err != nil {
			return false
		}
		v, ok := r.OS()
		if !ok || !v.LessThan(limit) {
			return false
		}
	}
	return true
}

// SortRows sorts rows in place by key. Rows missing the key always sort
// last, in either direction. Unknown keys leave the order unchanged.
func SortRows(rows []Row, key string, desc bool) {
	var cmp func(a, b Row) (int, bool)
	switch key {
	case SortDevice:
		cmp = stringCmp(func(r Row) string { return r.DeviceName })
	case SortUser:
		cmp = stringCmp(func(r Row) string { return r.UserPrincipalName })
	case SortDepartment:
		cmp = stringCmp(func(r Row) string { return r.Department })
	case SortCondition:
		cmp = stringCmp(func(r Row) string {
			if r.Condition == nil {
				return ""
			}
			return string(*r.Condition)
		})
	case SortHealth:
		cmp = intCmp(Row.Health)
	case SortCycles:
		cmp = intCmp(Row.Cycles)
	case SortOS:
		cmp = func(a, b Row) (int, bool) {
			x, okx := a.OS()
			y, oky := b.OS()
			switch {
			case !okx && !oky:
				return 0, true
			case !okx:
				return 1, false
			case !oky:
				return -1, false
			}
			return x.Compare(y), true
		}
	case SortUpdated:
		cmp = func(a, b Row) (int, bool) {
			return a.LastUpdate.Compare(b.LastUpdate), true
		}
	default:
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		c, known := cmp(rows[i], rows[j])
		if !known {
			// Exactly one side is missing; c tells which.
			return c < 0
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// stringCmp and intCmp return (c, true) when both sides have a value, and
// (-1, false) when only a has one so that missing values trail.
func stringCmp(get func(Row) string) func(a, b Row) (int, bool) {
	return func(a, b Row) (int, bool) {
		x, y := get(a), get(b)
		switch {
		case x == "" && y == "":
			return 0, true
		case x == "":
			return 1, false
		case y == "":
			return -1, false
		}
		return strings.Compare(strings.ToLower(x), strings.ToLower(y)), true
	}
}

func intCmp(get func(Row) (int, bool)) func(a, b Row) (int, bool) {
	return func(a, b Row) (int, bool) {
		x, okx := get(a)
		y, oky := get(b)
		switch {
		case !okx && !oky:
			return 0, true
		case !okx:
			return 1, false
		case !oky:
			return -1, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
}

// ConditionUnknown labels rows whose record carried no condition.
const ConditionUnknown = "Unknown"

// Summary aggregates the rows of one fetch cycle.
type Summary struct {
	Generation  uint64    `json:"generation"`
	RefreshedAt time.Time `json:"refreshedAt"`
	Threshold   int       `json:"threshold"`

	Devices        int `json:"devices"`
	WithBattery    int `json:"withBattery"`
	NoBattery      int `json:"noBattery"`
	FailedRuns     int `json:"failedRuns"`
	BelowThreshold int `json:"belowThreshold"`
	OverCycles     int `json:"overCycleThreshold"`
	NeedsService   int `json:"needsService"`

	MeanHealth float64 `json:"meanHealth"`
	MinHealth  *int    `json:"minHealth"`

	ByCondition map[string]int `json:"byCondition"`
}

// Summary aggregates the current rows. Rows with a known health below
// threshold count as below threshold.
func (v *View) Summary(threshold int) Summary {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := Summarize(v.rows, threshold)
	s.Generation = v.committed
	s.RefreshedAt = v.refreshedAt
	return s
}

// Summarize aggregates rows.
func Summarize(rows []Row, threshold int) Summary {
	s := Summary{
		Threshold:   threshold,
		Devices:     len(rows),
		ByCondition: map[string]int{},
	}

	sum, n := 0, 0
	for _, r := range rows {
		if !r.Succeeded() {
			s.FailedRuns++
		}
		if !r.HasData() {
			s.NoBattery++
			continue
		}
		s.WithBattery++

		if h, ok := r.Health(); ok {
			sum += h
			n++
			if s.MinHealth == nil || h < *s.MinHealth {
				s.MinHealth = &h
			}
			if h < threshold {
				s.BelowThreshold++
			}
		}
		if r.IsOverThreshold() {
			s.OverCycles++
		}
		if r.Condition != nil {
			s.ByCondition[string(*r.Condition)]++
			if r.Condition.NeedsService() {
				s.NeedsService++
			}
		} else {
			s.ByCondition[ConditionUnknown]++
		}
	}
	if n > 0 {
		s.MeanHealth = float64(sum) / float64(n)
	}

	return s
}

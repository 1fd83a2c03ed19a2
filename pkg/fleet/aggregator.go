// Package fleet turns the run states of the battery attribute script into
// rows of fleet data and keeps them for display and export.
package fleet

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battfleet/pkg/graph"
	"github.com/charlie0129/battfleet/pkg/telemetry"
)

// ErrNotFound is returned when an attribute identifier matches no script.
var ErrNotFound = pkgerrors.New("attribute script not found")

// API is the subset of the Graph client the aggregator uses.
type API interface {
	ListAttributeScripts(ctx context.Context) ([]graph.AttributeScript, error)
	ListRunStates(ctx context.Context, scriptID string, fn func([]graph.RunState) error) error
	GetUser(ctx context.Context, idOrUPN string) (*graph.User, error)
	GetManager(ctx context.Context, idOrUPN string) (*graph.User, error)
}

// DefaultEnrichConcurrency bounds concurrent directory lookups.
const DefaultEnrichConcurrency = 4

// Aggregator fetches the fleet from the Graph API.
type Aggregator struct {
	api         API
	concurrency int
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithEnrichConcurrency sets how many directory lookups may run at once.
// Values below 1 are ignored.
func WithEnrichConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAggregator returns an Aggregator using api.
func NewAggregator(api API, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		api:         api,
		concurrency: DefaultEnrichConcurrency,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Resolve maps an attribute identifier to a script id. UUIDs are taken as
// they are. Anything else is matched against script display names: an
// exact match first, then a case-insensitive substring match preferring
// the most recently created script.
func (a *Aggregator) Resolve(ctx context.Context, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", pkgerrors.Wrapf(ErrNotFound, "empty attribute identifier")
	}

	if id, err := uuid.Parse(identifier); err == nil {
		return id.String(), nil
	}

	scripts, err := a.api.ListAttributeScripts(ctx)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to resolve attribute %q", identifier)
	}

	for _, s := range scripts {
		if s.DisplayName == identifier {
			return s.ID, nil
		}
	}

	needle := strings.ToLower(identifier)
	var candidates []graph.AttributeScript
	for _, s := range scripts {
		if strings.Contains(strings.ToLower(s.DisplayName), needle) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return "", pkgerrors.Wrapf(ErrNotFound, "no attribute script matches %q", identifier)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedDateTime.After(candidates[j].CreatedDateTime)
	})
	if len(candidates) > 1 {
		logrus.WithFields(logrus.Fields{
			"identifier": identifier,
			"chosen":     candidates[0].DisplayName,
			"matches":    len(candidates),
		}).Warn("attribute identifier is ambiguous, using the newest script")
	}

	return candidates[0].ID, nil
}

// Fetch resolves identifier and returns one row per usable run state, in
// the order the pages arrived. Any failed page aborts the whole fetch.
func (a *Aggregator) Fetch(ctx context.Context, identifier string) ([]Row, error) {
	id, err := a.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	rows := []Row{}
	dropped := 0
	err = a.api.ListRunStates(ctx, id, func(states []graph.RunState) error {
		for _, rs := range states {
			row, ok := rowFromRunState(rs)
			if !ok {
				dropped++
				continue
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to fetch fleet")
	}

	logrus.WithFields(logrus.Fields{
		"script":  id,
		"rows":    len(rows),
		"dropped": dropped,
	}).Info("fetched fleet run states")

	return rows, nil
}

// rowFromRunState builds a row, or reports false if a required field is
// missing.
func rowFromRunState(rs graph.RunState) (Row, bool) {
	var missing string
	switch {
	case rs.ID == "":
		missing = "id"
	case rs.ManagedDevice == nil:
		missing = "device"
	case rs.LastStateUpdateDateTime == nil || rs.LastStateUpdateDateTime.IsZero():
		missing = "timestamp"
	case rs.RunState == "":
		missing = "run_state"
	}
	if missing != "" {
		droppedTotal.WithLabelValues(missing).Inc()
		logrus.WithFields(logrus.Fields{
			"runState": rs.ID,
			"missing":  missing,
		}).Debug("dropping incomplete run state")
		return Row{}, false
	}

	d := rs.ManagedDevice
	return Row{
		DeviceID:          d.ID,
		DeviceName:        d.DeviceName,
		UserPrincipalName: d.UserPrincipalName,
		SerialNumber:      d.SerialNumber,
		Model:             d.Model,
		OSVersion:         d.OSVersion,
		LastUpdate:        *rs.LastStateUpdateDateTime,
		RunState:          rs.RunState,
		ErrorCode:         rs.ErrorCode,
		ErrorDescription:  rs.ErrorDescription,
		ResultMessage:     rs.ResultMessage,
		Battery:           telemetry.Decode(rs.ResultMessage),
	}, true
}

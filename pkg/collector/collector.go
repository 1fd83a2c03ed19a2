// Package collector harvests raw battery counters on the local Mac.
//
// Several sources are tried in priority order and merged field by field,
// because no single one of them is reliable across all hardware
// generations.
package collector

import (
	"context"
	"os/exec"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battfleet/pkg/telemetry"
)

// ErrNoBattery is returned by a source that found no battery hardware.
var ErrNoBattery = pkgerrors.New("no battery found")

// Source reads raw counters from one place.
type Source interface {
	Name() string
	Read(ctx context.Context) (*telemetry.RawCounters, error)
}

// RunFunc runs an external command and returns its stdout.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	logrus.WithFields(logrus.Fields{
		"cmd":  name,
		"args": args,
	}).Trace("running command")

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to run %s", name)
	}
	return out, nil
}

// Collector merges several sources.
type Collector struct {
	sources  []Source
	fallback func(ctx context.Context) string
}

// New returns a Collector that tries sources in the given order. fallback,
// if not nil, is consulted for the battery condition only when no source
// reported one.
func New(fallback func(ctx context.Context) string, sources ...Source) *Collector {
	return &Collector{
		sources:  sources,
		fallback: fallback,
	}
}

// NewDefault returns the Collector for the current platform.
func NewDefault() *Collector {
	return New(NewProfilerCondition(nil).Condition, defaultSources()...)
}

// Collect reads all sources and merges them. The boolean is false when no
// source found a battery.
func (c *Collector) Collect(ctx context.Context) (*telemetry.RawCounters, bool) {
	merged := &telemetry.RawCounters{}
	found := false

	for _, s := range c.sources {
		raw, err := s.Read(ctx)
		if err != nil {
			logrus.WithField("source", s.Name()).Debugf("source unavailable: %v", err)
			continue
		}
		if raw == nil || !hasAny(raw) {
			logrus.WithField("source", s.Name()).Debug("source returned no data")
			continue
		}
		found = true
		merge(merged, raw)
	}

	if !found {
		return nil, false
	}

	if c.fallback != nil {
		fallback := c.fallback
		merged.ConditionFallback = func() string {
			return fallback(ctx)
		}
	}

	return merged, true
}

// merge fills fields of dst from src. The first non-zero value wins, but a
// zero is better than nothing.
func merge(dst, src *telemetry.RawCounters) {
	mergeInt(&dst.DesignCapacity, src.DesignCapacity)
	mergeInt(&dst.RawMaxCapacity, src.RawMaxCapacity)
	mergeInt(&dst.MaxCapacity, src.MaxCapacity)
	mergeInt(&dst.NominalChargeCapacity, src.NominalChargeCapacity)
	mergeInt(&dst.CurrentCapacity, src.CurrentCapacity)
	mergeInt(&dst.RawCurrentCapacity, src.RawCurrentCapacity)
	mergeInt(&dst.CycleCount, src.CycleCount)
	mergeInt(&dst.TimeRemaining, src.TimeRemaining)
	mergeInt(&dst.Voltage, src.Voltage)

	if dst.IsCharging == nil {
		dst.IsCharging = src.IsCharging
	}
	if dst.ExternalConnected == nil {
		dst.ExternalConnected = src.ExternalConnected
	}

	dst.Conditions = append(dst.Conditions, src.Conditions...)
}

func mergeInt(dst **int, src *int) {
	if src == nil {
		return
	}
	if *dst == nil || (**dst == 0 && *src != 0) {
		v := *src
		*dst = &v
	}
}

func hasAny(r *telemetry.RawCounters) bool {
	for _, p := range []*int{
		r.DesignCapacity,
		r.RawMaxCapacity,
		r.MaxCapacity,
		r.NominalChargeCapacity,
		r.CurrentCapacity,
		r.RawCurrentCapacity,
		r.CycleCount,
		r.TimeRemaining,
		r.Voltage,
	} {
		if p != nil {
			return true
		}
	}
	return r.IsCharging != nil || r.ExternalConnected != nil || len(r.Conditions) > 0
}

//go:build darwin

package collector

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battfleet/pkg/smc"
	"github.com/charlie0129/battfleet/pkg/telemetry"
)

// SMCSource reads battery keys directly from the Apple SMC.
type SMCSource struct {
	open func() (*smc.AppleSMC, error)
}

// NewSMCSource returns an SMCSource. A nil open connects to the real SMC.
func NewSMCSource(open func() (*smc.AppleSMC, error)) *SMCSource {
	if open == nil {
		open = func() (*smc.AppleSMC, error) {
			c := smc.New()
			if err := c.Open(); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return &SMCSource{open: open}
}

func (s *SMCSource) Name() string {
	return "smc"
}

func (s *SMCSource) Read(_ context.Context) (*telemetry.RawCounters, error) {
	conn, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logrus.Warnf("failed to close smc connection: %v", err)
		}
	}()

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithField("keys", conn.AvailableKeys()).Debug("smc keys available")
	}

	raw := &telemetry.RawCounters{
		CycleCount:         readInt(conn.GetCycleCount, "cycle count"),
		Voltage:            readInt(conn.GetBatteryVoltage, "voltage"),
		TimeRemaining:      readInt(conn.GetTimeToEmpty, "time to empty"),
		RawMaxCapacity:     readInt(conn.GetFullChargeCapacity, "full charge capacity"),
		DesignCapacity:     readInt(conn.GetDesignCapacity, "design capacity"),
		RawCurrentCapacity: readInt(conn.GetRemainingCapacity, "remaining capacity"),
		IsCharging:         readBool(conn.IsCharging, "charging"),
		ExternalConnected:  readBool(conn.IsPluggedIn, "plugged in"),
	}

	// Some firmware only exposes the charge percentage. Scale it against the
	// full-charge capacity.
	if raw.RawCurrentCapacity == nil {
		raw.CurrentCapacity = readInt(conn.GetBatteryCharge, "battery charge")
		if raw.CurrentCapacity != nil {
			raw.NominalChargeCapacity = raw.RawMaxCapacity
		}
	}

	// Without any capacity key there is no battery behind the SMC, even if
	// the AC key answers.
	if raw.CycleCount == nil && raw.RawMaxCapacity == nil && raw.DesignCapacity == nil {
		return nil, ErrNoBattery
	}

	return raw, nil
}

func readInt(read func() (int, error), what string) *int {
	v, err := read()
	if err != nil {
		logrus.Tracef("smc: failed to read %s: %v", what, err)
		return nil
	}
	return &v
}

func readBool(read func() (bool, error), what string) *bool {
	v, err := read()
	if err != nil {
		logrus.Tracef("smc: failed to read %s: %v", what, err)
		return nil
	}
	return &v
}

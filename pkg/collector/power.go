package collector

import (
	"context"
	"math"

	"github.com/distatus/battery"

	"github.com/charlie0129/battfleet/pkg/telemetry"
)

// PowerSource reads the OS power information through distatus/battery.
// Capacities are reported in mWh there, so they are converted to mAh with
// the reported voltage.
type PowerSource struct {
	getAll func() ([]*battery.Battery, error)
}

// NewPowerSource returns a PowerSource. A nil getAll uses battery.GetAll.
func NewPowerSource(getAll func() ([]*battery.Battery, error)) *PowerSource {
	if getAll == nil {
		getAll = battery.GetAll
	}
	return &PowerSource{getAll: getAll}
}

func (s *PowerSource) Name() string {
	return "power"
}

func (s *PowerSource) Read(_ context.Context) (*telemetry.RawCounters, error) {
	batteries, err := s.getAll()
	if len(batteries) == 0 || batteries[0] == nil {
		if err != nil {
			return nil, err
		}
		return nil, ErrNoBattery
	}

	// All MacBooks only have one battery.
	bat := batteries[0]

	volts := bat.Voltage
	if volts <= 0 {
		volts = bat.DesignVoltage
	}

	charging := bat.State == battery.Charging
	raw := &telemetry.RawCounters{
		IsCharging: &charging,
	}
	if volts > 0 {
		raw.Voltage = intPtr(volts * 1000)
		raw.DesignCapacity = intPtr(bat.Design / volts)
		raw.RawMaxCapacity = intPtr(bat.Full / volts)
		raw.RawCurrentCapacity = intPtr(bat.Current / volts)
	}
	if bat.State == battery.Charging || bat.State == battery.Full {
		plugged := true
		raw.ExternalConnected = &plugged
	}

	return raw, nil
}

func intPtr(f float64) *int {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	v := int(math.Round(f))
	return &v
}

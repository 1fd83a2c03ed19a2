package collector

import (
	"context"
	"math"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"howett.net/plist"

	"github.com/charlie0129/battfleet/pkg/telemetry"
)

// conditionKeys are the AppleSmartBattery properties that may carry the
// battery condition, most specific first.
var conditionKeys = []string{
	"BatteryHealthCondition",
	"BatteryHealth",
	"Condition",
}

// IORegSource reads the AppleSmartBattery IORegistry entry.
type IORegSource struct {
	run RunFunc
}

// NewIORegSource returns an IORegSource. A nil run uses os/exec.
func NewIORegSource(run RunFunc) *IORegSource {
	if run == nil {
		run = runCommand
	}
	return &IORegSource{run: run}
}

func (s *IORegSource) Name() string {
	return "ioreg"
}

func (s *IORegSource) Read(ctx context.Context) (*telemetry.RawCounters, error) {
	out, err := s.run(ctx, "/usr/sbin/ioreg", "-r", "-c", "AppleSmartBattery", "-a")
	if err != nil {
		return nil, err
	}
	return parseIORegPlist(out)
}

type ioregEntry map[string]interface{}

func parseIORegPlist(data []byte) (*telemetry.RawCounters, error) {
	if len(data) == 0 {
		return nil, ErrNoBattery
	}

	var entries []ioregEntry
	if _, err := plist.Unmarshal(data, &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to parse ioreg output")
	}
	if len(entries) == 0 {
		return nil, ErrNoBattery
	}

	e := entries[0]
	batteryData, _ := e["BatteryData"].(map[string]interface{})
	nested := ioregEntry(batteryData)

	raw := &telemetry.RawCounters{
		DesignCapacity:        e.firstInt(nested, "DesignCapacity"),
		RawMaxCapacity:        e.firstInt(nil, "AppleRawMaxCapacity"),
		MaxCapacity:           e.firstInt(nil, "MaxCapacity"),
		NominalChargeCapacity: e.firstInt(nil, "NominalChargeCapacity"),
		CurrentCapacity:       e.firstInt(nil, "CurrentCapacity"),
		RawCurrentCapacity:    e.firstInt(nil, "AppleRawCurrentCapacity"),
		CycleCount:            e.firstInt(nested, "CycleCount"),
		IsCharging:            e.boolean("IsCharging"),
		ExternalConnected:     e.boolean("ExternalConnected"),
		TimeRemaining:         e.firstInt(nil, "TimeRemaining", "AvgTimeToEmpty"),
		Voltage:               e.firstInt(nested, "Voltage", "AppleRawBatteryVoltage"),
	}

	for _, k := range conditionKeys {
		if v, ok := e[k]; ok {
			raw.Conditions = append(raw.Conditions, stringify(v))
		}
	}

	return raw, nil
}

// firstInt returns the first of keys present in e, then in fallback.
func (e ioregEntry) firstInt(fallback ioregEntry, keys ...string) *int {
	for _, m := range []ioregEntry{e, fallback} {
		if m == nil {
			continue
		}
		for _, k := range keys {
			if v, ok := toInt(m[k]); ok {
				return &v
			}
		}
	}
	return nil
}

func (e ioregEntry) boolean(key string) *bool {
	switch v := e[key].(type) {
	case bool:
		return &v
	case uint64:
		b := v != 0
		return &b
	}
	return nil
}

// toInt converts a plist number. ioreg stores signed values as unsigned
// 64-bit integers.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case uint64:
		if n > math.MaxInt64 {
			return int(int64(n)), true
		}
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(math.Round(n)), true
	}
	return 0, false
}

func stringify(v interface{}) string {
	if n, ok := toInt(v); ok {
		return strconv.Itoa(n)
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

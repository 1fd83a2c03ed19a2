package telemetry

import "strings"

// CycleThreshold is the fleet policy limit. Batteries at or above this many
// cycles are flagged for replacement planning.
const CycleThreshold = 1000

// TimeRemainingCalculating is reported by the hardware while it is still
// estimating the time remaining. It is never a real duration.
const TimeRemainingCalculating = 65535

// FieldCount is the number of fields in a telemetry record.
const FieldCount = 11

// Condition is the battery condition label as reported by macOS.
type Condition string

const (
	Normal         Condition = "Normal"
	ReplaceSoon    Condition = "Replace Soon"
	ReplaceNow     Condition = "Replace Now"
	ServiceBattery Condition = "Service Battery"
)

// DefaultCondition is used when no source reports a condition at all.
// Note that this optimistically treats an unknown battery as healthy.
const DefaultCondition = Normal

var knownConditions = []Condition{Normal, ReplaceSoon, ReplaceNow, ServiceBattery}

// ParseCondition maps a wire label to a Condition. Known labels are matched
// case-insensitively with whitespace collapsed; anything else is kept as is.
func ParseCondition(s string) Condition {
	s = sanitizeLabel(s)
	for _, c := range knownConditions {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	return Condition(s)
}

// IsKnown reports whether c is one of the fixed labels.
func (c Condition) IsKnown() bool {
	for _, k := range knownConditions {
		if c == k {
			return true
		}
	}
	return false
}

// NeedsService reports whether the condition asks for any kind of
// replacement or service.
func (c Condition) NeedsService() bool {
	return c.IsKnown() && c != Normal
}

// RawCounters holds whatever the hardware reported for one run. Any field
// may be nil, zero or scaled inconsistently.
type RawCounters struct {
	DesignCapacity        *int `json:"designCapacity,omitempty"`
	RawMaxCapacity        *int `json:"rawMaxCapacity,omitempty"`
	MaxCapacity           *int `json:"maxCapacity,omitempty"`
	NominalChargeCapacity *int `json:"nominalChargeCapacity,omitempty"`
	CurrentCapacity       *int `json:"currentCapacity,omitempty"`
	RawCurrentCapacity    *int `json:"rawCurrentCapacity,omitempty"`
	CycleCount            *int `json:"cycleCount,omitempty"`

	IsCharging        *bool `json:"isCharging,omitempty"`
	ExternalConnected *bool `json:"externalConnected,omitempty"`

	TimeRemaining *int `json:"timeRemaining,omitempty"`
	Voltage       *int `json:"voltage,omitempty"`

	// Conditions holds raw condition values in priority order.
	Conditions []string `json:"conditions,omitempty"`
	// ConditionFallback is consulted only when no entry of Conditions is
	// usable. It is typically a system_profiler scrape.
	ConditionFallback func() string `json:"-"`
}

// Battery is a normalized battery reading. It is also what a decoded
// telemetry record looks like, so every field is optional: nil means no
// data, which is different from a measured zero.
type Battery struct {
	HealthPercent          *int       `json:"healthPercent"`
	CycleCount             *int       `json:"cycleCount"`
	FullChargeCapacity     *int       `json:"fullChargeCapacityMah"`
	DesignCapacity         *int       `json:"designCapacityMah"`
	CurrentCapacity        *int       `json:"currentCapacityMah"`
	IsCharging             *bool      `json:"isCharging"`
	ExternalPowerConnected *bool      `json:"externalPowerConnected"`
	TimeRemaining          *int       `json:"timeRemainingMinutes"`
	Voltage                *int       `json:"voltageMillivolts"`
	Condition              *Condition `json:"condition"`
	OverThreshold          *bool      `json:"overCycleThreshold"`
}

// HasData reports whether any field carries a value.
func (b Battery) HasData() bool {
	return b.HealthPercent != nil ||
		b.CycleCount != nil ||
		b.FullChargeCapacity != nil ||
		b.DesignCapacity != nil ||
		b.CurrentCapacity != nil ||
		b.IsCharging != nil ||
		b.ExternalPowerConnected != nil ||
		b.TimeRemaining != nil ||
		b.Voltage != nil ||
		b.Condition != nil ||
		b.OverThreshold != nil
}

// Health returns the health percent and whether it is known.
func (b Battery) Health() (int, bool) {
	if b.HealthPercent == nil {
		return 0, false
	}
	return *b.HealthPercent, true
}

// Cycles returns the cycle count and whether it is known.
func (b Battery) Cycles() (int, bool) {
	if b.CycleCount == nil {
		return 0, false
	}
	return *b.CycleCount, true
}

// ConditionOr returns the condition, or def if unknown.
func (b Battery) ConditionOr(def Condition) Condition {
	if b.Condition == nil {
		return def
	}
	return *b.Condition
}

// IsOverThreshold reports whether the record is flagged as over the cycle
// threshold. Unknown counts as false.
func (b Battery) IsOverThreshold() bool {
	return b.OverThreshold != nil && *b.OverThreshold
}

package telemetry

import (
	"math"
	"strings"

	"github.com/charlie0129/battfleet/pkg/utils/ptr"
)

const (
	// maxPlausibleHealth is the highest health percent that is still taken
	// at face value. Anything above means the design capacity field is
	// miscalibrated.
	maxPlausibleHealth = 110
	// clampedHealth is what an implausible health percent is reported as.
	clampedHealth = 100
	// mAhFloor separates capacities already in mAh from percentages.
	mAhFloor = 200
)

// Normalize turns raw counters into a Battery. It never fails: anything it
// cannot make sense of is left absent.
func Normalize(raw RawCounters) Battery {
	design := value(raw.DesignCapacity)
	full := fullChargeCapacity(raw)
	current := currentCapacity(raw)
	cycles := raw.CycleCount
	if cycles != nil && *cycles < 0 {
		cycles = nil
	}

	b := Battery{
		HealthPercent:          healthPercent(design, full, value(raw.MaxCapacity)),
		CycleCount:             copyInt(cycles),
		FullChargeCapacity:     positive(full),
		DesignCapacity:         positive(design),
		CurrentCapacity:        positive(current),
		IsCharging:             copyBool(raw.IsCharging),
		ExternalPowerConnected: copyBool(raw.ExternalConnected),
		TimeRemaining:          timeRemaining(raw.TimeRemaining),
		Voltage:                positive(value(raw.Voltage)),
		Condition:              ptr.To(resolveCondition(raw)),
		OverThreshold:          ptr.To(value(cycles) >= CycleThreshold),
	}

	return b
}

// fullChargeCapacity returns the full-charge capacity in mAh, or 0.
func fullChargeCapacity(raw RawCounters) int {
	rawMax := value(raw.RawMaxCapacity)
	nominal := value(raw.NominalChargeCapacity)
	maxCap := value(raw.MaxCapacity)

	switch {
	case rawMax > 0:
		return rawMax
	case nominal > 0 && maxCap > 0 && maxCap <= maxPlausibleHealth:
		// MaxCapacity is a percentage on Apple Silicon.
		return nominal * maxCap / 100
	case maxCap > mAhFloor:
		return maxCap
	default:
		return 0
	}
}

// currentCapacity returns the current charge in mAh, or 0.
func currentCapacity(raw RawCounters) int {
	rawCur := value(raw.RawCurrentCapacity)
	nominal := value(raw.NominalChargeCapacity)
	cur := value(raw.CurrentCapacity)

	switch {
	case rawCur > 0:
		return rawCur
	case cur > mAhFloor:
		return cur
	case nominal > 0 && cur > 0 && cur <= 100:
		return nominal * cur / 100
	default:
		return 0
	}
}

func healthPercent(design, full, maxCap int) *int {
	if design > 0 && full > 0 {
		h := int(math.Round(100 * float64(full) / float64(design)))
		if h > maxPlausibleHealth {
			h = clampedHealth
		}
		return &h
	}
	if maxCap > 0 && maxCap <= maxPlausibleHealth {
		return &maxCap
	}
	return nil
}

func timeRemaining(v *int) *int {
	if v == nil || *v <= 0 || *v >= TimeRemainingCalculating {
		return nil
	}
	return copyInt(v)
}

// resolveCondition tries each condition source in order and maps the first
// usable value.
func resolveCondition(raw RawCounters) Condition {
	var extractors []func() string
	for _, c := range raw.Conditions {
		c := c
		extractors = append(extractors, func() string { return c })
	}
	if raw.ConditionFallback != nil {
		extractors = append(extractors, raw.ConditionFallback)
	}

	for _, extract := range extractors {
		if v := extract(); usableCondition(v) {
			return MapCondition(v)
		}
	}

	return DefaultCondition
}

// HasCondition reports whether any source carries a usable condition
// without consulting the fallback.
func (r RawCounters) HasCondition() bool {
	for _, c := range r.Conditions {
		if usableCondition(c) {
			return true
		}
	}
	return false
}

func usableCondition(v string) bool {
	v = sanitizeLabel(v)
	return v != "" && v != "0" && !strings.EqualFold(v, placeholder)
}

// conditionAliases lists the raw values each known condition is reported
// as. The canonical label comes first.
var conditionAliases = []struct {
	condition Condition
	names     []string
}{
	{Normal, []string{string(Normal), "0", "good"}},
	{ReplaceSoon, []string{string(ReplaceSoon), "1", "fair"}},
	{ReplaceNow, []string{string(ReplaceNow), "2", "poor"}},
	{ServiceBattery, []string{string(ServiceBattery), "3", "check battery", "service recommended"}},
}

// MapCondition maps a raw numeric or textual condition value to a Condition.
// Known labels always come back as the canonical constant.
func MapCondition(v string) Condition {
	v = sanitizeLabel(v)
	if v == "" {
		return Normal
	}
	for _, a := range conditionAliases {
		for _, name := range a.names {
			if strings.EqualFold(v, name) {
				return a.condition
			}
		}
	}
	return Condition(v)
}

// sanitizeLabel keeps free-form labels safe for the comma separated record.
func sanitizeLabel(v string) string {
	v = strings.ReplaceAll(v, ",", " ")
	return strings.Join(strings.Fields(v), " ")
}

func value(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func positive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

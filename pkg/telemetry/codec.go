package telemetry

import (
	"regexp"
	"strconv"
	"strings"
)

// placeholder marks a field without data. A record consisting of only the
// placeholder means the device has no battery at all.
const placeholder = "None"

// NoBattery is the whole record published by a machine without a battery.
const NoBattery = placeholder

const separator = ","

// Field positions in a record. New fields may only be appended.
const (
	FieldHealthPercent = iota
	FieldCycleCount
	FieldFullChargeCapacity
	FieldDesignCapacity
	FieldCurrentCapacity
	FieldIsCharging
	FieldExternalPowerConnected
	FieldTimeRemaining
	FieldVoltage
	FieldCondition
	FieldOverThreshold
)

// FieldNames are the human readable names of the record fields, in order.
var FieldNames = [FieldCount]string{
	"HealthPercent",
	"CycleCount",
	"FullChargeCapacity",
	"DesignCapacity",
	"CurrentCapacity",
	"IsCharging",
	"ExternalPowerConnected",
	"TimeRemainingMin",
	"Voltage",
	"Condition",
	"OverThreshold",
}

var intPattern = regexp.MustCompile(`^-?[0-9]+$`)

// Encode serializes b into a single-line record. A nil battery produces
// NoBattery.
func Encode(b *Battery) string {
	if b == nil {
		return NoBattery
	}

	fields := [FieldCount]string{
		FieldHealthPercent:          encodeInt(b.HealthPercent),
		FieldCycleCount:             encodeInt(b.CycleCount),
		FieldFullChargeCapacity:     encodeInt(b.FullChargeCapacity),
		FieldDesignCapacity:         encodeInt(b.DesignCapacity),
		FieldCurrentCapacity:        encodeInt(b.CurrentCapacity),
		FieldIsCharging:             encodeBool(b.IsCharging),
		FieldExternalPowerConnected: encodeBool(b.ExternalPowerConnected),
		FieldTimeRemaining:          encodeInt(b.TimeRemaining),
		FieldVoltage:                encodeInt(b.Voltage),
		FieldCondition:              encodeCondition(b.Condition),
		FieldOverThreshold:          encodeBool(b.OverThreshold),
	}

	return strings.Join(fields[:], separator)
}

func encodeInt(v *int) string {
	if v == nil {
		return placeholder
	}
	return strconv.Itoa(*v)
}

func encodeBool(v *bool) string {
	if v == nil {
		return placeholder
	}
	if *v {
		return "True"
	}
	return "False"
}

func encodeCondition(c *Condition) string {
	if c == nil {
		return placeholder
	}
	label := sanitizeLabel(string(*c))
	if label == "" {
		return placeholder
	}
	return label
}

// Decode parses a record. It never fails: fields that cannot be parsed, and
// fields missing from a short record, are left absent.
func Decode(record string) Battery {
	record = strings.TrimSpace(record)
	if record == "" || strings.EqualFold(record, NoBattery) {
		return Battery{}
	}

	parts := strings.Split(record, separator)
	field := func(i int) string {
		if i >= len(parts) {
			return ""
		}
		return strings.TrimSpace(parts[i])
	}

	b := Battery{
		HealthPercent:          decodeInt(field(FieldHealthPercent)),
		CycleCount:             decodeInt(field(FieldCycleCount)),
		FullChargeCapacity:     decodeInt(field(FieldFullChargeCapacity)),
		DesignCapacity:         decodeInt(field(FieldDesignCapacity)),
		CurrentCapacity:        decodeInt(field(FieldCurrentCapacity)),
		IsCharging:             decodeBool(field(FieldIsCharging)),
		ExternalPowerConnected: decodeBool(field(FieldExternalPowerConnected)),
		TimeRemaining:          decodeInt(field(FieldTimeRemaining)),
		Voltage:                decodeInt(field(FieldVoltage)),
		Condition:              decodeCondition(field(FieldCondition)),
		OverThreshold:          decodeBool(field(FieldOverThreshold)),
	}

	if b.TimeRemaining != nil && *b.TimeRemaining == TimeRemainingCalculating {
		b.TimeRemaining = nil
	}

	return b
}

func decodeInt(s string) *int {
	if !intPattern.MatchString(s) {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		// out of range
		return nil
	}
	return &v
}

func decodeBool(s string) *bool {
	var v bool
	switch strings.ToLower(s) {
	case "true":
		v = true
	case "false":
		v = false
	default:
		return nil
	}
	return &v
}

func decodeCondition(s string) *Condition {
	if s == "" || strings.EqualFold(s, placeholder) {
		return nil
	}
	c := ParseCondition(s)
	return &c
}

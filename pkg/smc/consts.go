//go:build darwin

package smc

// Battery keys shared by all architectures. All of them are 2-byte values.
const (
	CycleCountKey         = "B0CT"
	VoltageKey            = "B0AV" // mV
	AmperageKey           = "B0AC" // mA, signed
	TimeToEmptyKey        = "B0TE" // minutes, 65535 while calculating
	FullChargeCapacityKey = "B0FC" // mAh
	DesignCapacityKey     = "B0DC" // mAh
	RemainingCapacityKey  = "B0RM" // mAh
)

var allKeys = []string{
	ACPowerKey,
	BatteryChargeKey,
	CycleCountKey,
	VoltageKey,
	AmperageKey,
	TimeToEmptyKey,
	FullChargeCapacityKey,
	DesignCapacityKey,
	RemainingCapacityKey,
}

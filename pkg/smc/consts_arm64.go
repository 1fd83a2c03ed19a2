//go:build darwin

package smc

// Per-architecture SMC keys for arm64 (Apple Silicon).
const (
	ACPowerKey       = "AC-W"
	BatteryChargeKey = "BUIC"
)

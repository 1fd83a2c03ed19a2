//go:build darwin

package smc

// Per-architecture SMC keys for amd64 (Intel 64).
// Intel Macs are only read on a best-effort basis.
const (
	ACPowerKey       = "AC-W" // Not verified yet.
	BatteryChargeKey = "BBIF"
)

//go:build !darwin

package collector

// Only distatus/battery works off macOS. ioreg and system_profiler simply
// fail there, and the SMC is not available at all.
func defaultSources() []Source {
	return []Source{
		NewPowerSource(nil),
	}
}

package collector

func defaultSources() []Source {
	return []Source{
		NewIORegSource(nil),
		NewSMCSource(nil),
		NewPowerSource(nil),
	}
}

package config

// Config is the battfleet configuration.
type Config interface {
	TenantID() string
	ClientID() string
	ClientSecret() string
	AccessToken() string
	GraphURL() string

	Attribute() string
	Recipients() []string
	Sender() string
	MinHealth() int
	ReportTitle() string
	Schedule() string

	Enrich() bool
	EnrichConcurrency() int
	Listen() string

	SetAttribute(string)
	SetRecipients([]string)
	SetSender(string)
	SetMinHealth(int)
	SetSchedule(string)
	SetListen(string)

	// Validate checks that values are in range.
	Validate() error
	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

package assignment

// Config defines offer lifetime and expiry sweep settings.
type Config struct {
	// OfferTTLMinutes is how long an offer stays open before expiring.
	OfferTTLMinutes int `json:"offer_ttl_minutes"`
	// SweepIntervalSeconds is the interval of the background expiry sweep.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.OfferTTLMinutes <= 0 {
		c.OfferTTLMinutes = 15
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 60
	}
}

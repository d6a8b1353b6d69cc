package alerting

import "time"

// MetricAlertConfig holds one metric's thresholds for an entity group.
type MetricAlertConfig struct {
	Name    string
	Enabled bool

	WarningEnabled   bool
	WarningThreshold float64

	CriticalEnabled   bool
	CriticalThreshold float64

	CriticalRepeatInterval time.Duration
}

// zone classifies value. With critical disabled the zone saturates at WARNING;
// with warning disabled the warning band is NONE.
func (c MetricAlertConfig) zone(value float64) Zone {
	switch {
	case c.CriticalEnabled && value >= c.CriticalThreshold:
		return ZoneCritical
	case c.WarningEnabled && value >= c.WarningThreshold:
		return ZoneWarning
	default:
		return ZoneNone
	}
}

func (c MetricAlertConfig) threshold(z Zone) float64 {
	if z == ZoneCritical {
		return c.CriticalThreshold
	}
	return c.WarningThreshold
}

// AvailabilityAlertConfig holds the downtime thresholds for an entity group.
type AvailabilityAlertConfig struct {
	Enabled bool

	WarningEnabled   bool
	WarningThreshold time.Duration

	CriticalEnabled   bool
	CriticalThreshold time.Duration

	CriticalRepeatInterval time.Duration
}

// GroupConfig is the alerting configuration shared by every entity with the
// same parent ID. Metrics are evaluated in slice order.
type GroupConfig struct {
	ParentID     string
	Metrics      []MetricAlertConfig
	Availability AvailabilityAlertConfig
}

// Config is an immutable snapshot of all group configurations. It is swapped
// as a whole, never modified in place.
type Config struct {
	groups map[string]*GroupConfig
}

// NewConfig builds a Config. A later group with the same ParentID replaces an
// earlier one; callers validate uniqueness before getting here.
func NewConfig(groups ...GroupConfig) *Config {
	c := &Config{groups: make(map[string]*GroupConfig, len(groups))}
	for i := range groups {
		g := groups[i]
		g.Metrics = append([]MetricAlertConfig(nil), g.Metrics...)
		c.groups[g.ParentID] = &g
	}
	return c
}

// Group returns the configuration for parentID.
func (c *Config) Group(parentID string) (*GroupConfig, bool) {
	if c == nil {
		return nil, false
	}
	g, ok := c.groups[parentID]
	return g, ok
}

// Len returns the number of configured groups.
func (c *Config) Len() int {
	if c == nil {
		return 0
	}
	return len(c.groups)
}

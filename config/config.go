package config

import (
	"slices"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Postgres archive and Redis store configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode and reaper configuration
//   - tasks.go: Result store and waiter tuning
//   - vendors.go: Outbound vendor submission
type AppConfig struct {
	// IsDev switches to text logs at debug level. APP_ENV=development or local also sets it.
	IsDev  bool   `env:"DEV"     envDefault:"false"`
	AppEnv string `env:"APP_ENV" envDefault:"production"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http"`

	// Task correlation configuration
	Tasks TasksConfig

	// Vendor submission configuration
	Vendors VendorsConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
func (c *AppConfig) Sanitize() {
	c.Postgres.Sanitize()
	c.HTTP.Sanitize()
	c.Tasks.Sanitize()
	c.Vendors.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	if slices.Contains(devEnvironments, strings.ToLower(strings.TrimSpace(c.AppEnv))) {
		c.IsDev = true
	}
}

var devEnvironments = []string{"development", "dev", "local"}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// ServiceEnabled reports whether mode is listed in SERVICES. An invalid list enables nothing.
func (c *AppConfig) ServiceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	return err == nil && services[mode]
}

// NeedsDatabase reports whether any enabled component reads or writes the Postgres archive.
func (c *AppConfig) NeedsDatabase() bool {
	return c.Tasks.ArchiveEnabled || c.ServiceEnabled(ServiceModeReaper)
}

// Package config loads application configuration from environment variables
// using github.com/caarlos0/env. See the domain-specific files for the
// available variables:
//   - database.go: Postgres and Redis configuration
//   - services.go: service mode, worker, scheduler, supervisor, and reaper
//     configuration
//   - observability.go: metrics configuration
package config

import (
	"os"
	"strings"
)

// AppConfig composes the full application configuration.
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, relaxed
	// guardrails). Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Postgres and Redis configuration.
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is the comma-delimited list of service modes to run.
	Services string `env:"SERVICES" envDefault:"worker"`

	Worker     WorkerConfig
	Supervisor SupervisorConfig
	Scheduler  SchedulerConfig
	Reaper     ReaperConfig
	SLA        SLAConfig
	Webhook    WebhookConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to values loaded from env. Call it after
// parsing.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.Supervisor.Sanitize()
	c.Scheduler.Sanitize()
	c.Reaper.Sanitize()
	c.SLA.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled service modes.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

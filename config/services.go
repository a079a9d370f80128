package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeScheduler runs the cohort scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs the liveness and retention reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeWorker, ServiceModeScheduler, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services, rejecting unknown names.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		switch mode {
		case ServiceModeWorker, ServiceModeScheduler, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, scheduler, reaper)",
				name,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// WorkerConfig contains worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of jobs executed in parallel per instance.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// BatchSize is the number of jobs claimed per poll.
	BatchSize int `env:"WORKER_BATCH_SIZE" envDefault:"10"`

	// PollInterval bounds how long a worker waits between polls when no
	// notification arrives.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.BatchSize < 1 {
		w.BatchSize = 1
	}
	if w.PollInterval <= 0 {
		w.PollInterval = 5 * time.Second
	}
}

// SupervisorConfig contains execution supervision configuration.
type SupervisorConfig struct {
	// ExecutionTimeout is the hard per-job deadline. Jobs exceeding it are
	// dead-lettered without retry.
	ExecutionTimeout time.Duration `env:"SUPERVISOR_EXECUTION_TIMEOUT" envDefault:"10m"`

	// RetryBackoffBase seeds the exponential retry delay.
	RetryBackoffBase time.Duration `env:"SUPERVISOR_RETRY_BACKOFF_BASE" envDefault:"30s"`

	// RetryBackoffCap bounds the exponential retry delay.
	RetryBackoffCap time.Duration `env:"SUPERVISOR_RETRY_BACKOFF_CAP" envDefault:"1h"`
}

// Sanitize applies guardrails to supervisor configuration values.
func (s *SupervisorConfig) Sanitize() {
	if s.ExecutionTimeout <= 0 {
		s.ExecutionTimeout = 10 * time.Minute
	}
	if s.RetryBackoffBase <= 0 {
		s.RetryBackoffBase = 30 * time.Second
	}
	if s.RetryBackoffCap < s.RetryBackoffBase {
		s.RetryBackoffCap = time.Hour
	}
}

// SchedulerConfig contains cohort scheduler configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`

	// BatchSize is the number of due tenants picked per tier per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"100"`

	// MaxAttempts is the attempt budget stamped on scheduled sweep jobs.
	MaxAttempts int `env:"SCHEDULER_MAX_ATTEMPTS" envDefault:"3"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 3
	}
}

// ReaperConfig contains liveness and retention reaper configuration.
type ReaperConfig struct {
	// Interval is the sweep interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// LivenessHorizon is how long a running job may go without finishing
	// before it is presumed lost.
	LivenessHorizon time.Duration `env:"REAPER_LIVENESS_HORIZON" envDefault:"30m"`

	// Retention is how long terminal jobs are kept before purging.
	Retention time.Duration `env:"REAPER_RETENTION" envDefault:"720h"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
	if r.LivenessHorizon <= 0 {
		r.LivenessHorizon = 30 * time.Minute
	}
	if r.Retention <= 0 {
		r.Retention = 30 * 24 * time.Hour
	}
}

// SLAConfig contains SLA and backlog aggregation configuration.
type SLAConfig struct {
	// Window is the rolling window for SLA reports.
	Window time.Duration `env:"SLA_WINDOW" envDefault:"24h"`

	// TargetRate is the success-rate target applied to every job type.
	TargetRate float64 `env:"SLA_TARGET_RATE" envDefault:"0.99"`
}

// Sanitize applies guardrails to SLA configuration values.
func (s *SLAConfig) Sanitize() {
	if s.Window <= 0 {
		s.Window = 24 * time.Hour
	}
	if s.TargetRate <= 0 || s.TargetRate > 1 {
		s.TargetRate = 0.99
	}
}

// WebhookConfig contains webhook intake configuration.
type WebhookConfig struct {
	// SigningSecrets maps provider names to shared HMAC secrets, formatted
	// as comma-separated provider:secret pairs.
	SigningSecrets map[string]string `env:"WEBHOOK_SIGNING_SECRETS" envDefault:""`
}

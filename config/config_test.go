package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - worker",
			input: "worker",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
			},
		},
		{
			name:  "single service - scheduler",
			input: "scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeScheduler: true,
			},
		},
		{
			name:  "all services",
			input: "worker,scheduler,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:    true,
				ServiceModeScheduler: true,
				ServiceModeReaper:    true,
			},
		},
		{
			name:  "services with spaces",
			input: " worker , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "duplicate services",
			input: "worker,worker,scheduler",
			expected: map[ServiceMode]bool{
				ServiceModeWorker:    true,
				ServiceModeScheduler: true,
			},
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "worker,invalid-service",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_GetEnabledServices(t *testing.T) {
	cfg := AppConfig{Services: "worker,reaper"}
	result, err := cfg.GetEnabledServices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result[ServiceModeWorker] || !result[ServiceModeReaper] {
		t.Errorf("expected worker and reaper enabled, got %v", result)
	}
	if result[ServiceModeScheduler] {
		t.Errorf("expected scheduler disabled, got %v", result)
	}

	cfg = AppConfig{Services: "invalid-service"}
	if _, err := cfg.GetEnabledServices(); err == nil {
		t.Errorf("expected error for invalid service name")
	}
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	cfg := WorkerConfig{Concurrency: 0, BatchSize: -1, PollInterval: 0}
	cfg.Sanitize()

	if cfg.Concurrency != 1 {
		t.Errorf("expected concurrency clamped to 1, got %d", cfg.Concurrency)
	}
	if cfg.BatchSize != 1 {
		t.Errorf("expected batch size clamped to 1, got %d", cfg.BatchSize)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("expected poll interval default, got %v", cfg.PollInterval)
	}
}

func TestSupervisorConfig_Sanitize(t *testing.T) {
	cfg := SupervisorConfig{
		ExecutionTimeout: 0,
		RetryBackoffBase: 0,
		RetryBackoffCap:  time.Millisecond,
	}
	cfg.Sanitize()

	if cfg.ExecutionTimeout != 10*time.Minute {
		t.Errorf("expected execution timeout default, got %v", cfg.ExecutionTimeout)
	}
	if cfg.RetryBackoffBase != 30*time.Second {
		t.Errorf("expected backoff base default, got %v", cfg.RetryBackoffBase)
	}
	if cfg.RetryBackoffCap < cfg.RetryBackoffBase {
		t.Errorf("expected backoff cap >= base, got %v", cfg.RetryBackoffCap)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("expected interval default, got %v", cfg.Interval)
	}
	if cfg.LivenessHorizon != 30*time.Minute {
		t.Errorf("expected liveness horizon default, got %v", cfg.LivenessHorizon)
	}
	if cfg.Retention != 30*24*time.Hour {
		t.Errorf("expected retention default, got %v", cfg.Retention)
	}
}

func TestSLAConfig_Sanitize(t *testing.T) {
	cfg := SLAConfig{Window: 0, TargetRate: 1.5}
	cfg.Sanitize()

	if cfg.Window != 24*time.Hour {
		t.Errorf("expected window default, got %v", cfg.Window)
	}
	if cfg.TargetRate != 0.99 {
		t.Errorf("expected target rate default, got %v", cfg.TargetRate)
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("SERVICES", "worker,scheduler")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("SUPERVISOR_EXECUTION_TIMEOUT", "2m")
	t.Setenv("SCHEDULER_MAX_ATTEMPTS", "5")
	t.Setenv("WEBHOOK_SIGNING_SECRETS", "stripe:whsec_abc,github:ghsec_def")
	t.Setenv("DB_NAME", "valdrix_jobs_custom")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "worker,scheduler" {
		t.Errorf("unexpected services: %q", cfg.Services)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Supervisor.ExecutionTimeout != 2*time.Minute {
		t.Errorf("expected execution timeout 2m, got %v", cfg.Supervisor.ExecutionTimeout)
	}
	if cfg.Scheduler.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.Scheduler.MaxAttempts)
	}
	if cfg.Webhook.SigningSecrets["stripe"] != "whsec_abc" {
		t.Errorf("unexpected stripe secret: %q", cfg.Webhook.SigningSecrets["stripe"])
	}
	if cfg.Postgres.Name != "valdrix_jobs_custom" {
		t.Errorf("unexpected db name: %q", cfg.Postgres.Name)
	}
}

func TestAppConfig_DetectDevMode(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg := AppConfig{}
	cfg.Sanitize()
	if !cfg.IsDev {
		t.Errorf("expected dev mode from APP_ENV")
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{ServiceModeWorker, ServiceModeScheduler, ServiceModeReaper}

	if len(modes) != len(expected) {
		t.Fatalf("expected %d service modes, got %d", len(expected), len(modes))
	}
	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

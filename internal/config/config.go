// Package config loads the supervisor's YAML configuration: Default()
// provides zero-config defaults, Load() layers an optional file and
// SUP__SECTION__KEY environment overrides on top, Validate() checks the
// invariants the rest of the system assumes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the root supervisor configuration.
type Config struct {
	Backend    BackendConfig            `yaml:"backend"`
	Tracker    TrackerConfig            `yaml:"tracker"`
	Queue      QueueConfig              `yaml:"queue"`
	Pipeline   PipelineConfig           `yaml:"pipeline"`
	Reporter   ReporterConfig           `yaml:"reporter"`
	Supervisor SupervisorConfig         `yaml:"supervisor"`
	Streams    []model.StreamDescriptor `yaml:"streams"`
}

// BackendConfig configures the HTTP backend integration.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// TrackerConfig configures the per-stream dwell state machine.
type TrackerConfig struct {
	ConfMin           float64       `yaml:"conf_min"`
	KMiss             int           `yaml:"k_miss"`
	EpsAbs            float64       `yaml:"eps_abs"`
	EpsRel            float64       `yaml:"eps_rel"`
	TStationary       time.Duration `yaml:"t_stationary"`
	TViolation        time.Duration `yaml:"t_violation"`
	ReidWindow        time.Duration `yaml:"reid_window"`
	ReidIoUThreshold  float64       `yaml:"reid_iou_threshold"`
	BBoxHistoryLen    int           `yaml:"bbox_history_len"`
	MatchIoUThreshold float64       `yaml:"match_iou_threshold"`
}

// QueueConfig configures the analysis task queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// PipelineConfig configures the analysis worker pool.
type PipelineConfig struct {
	Workers        int           `yaml:"workers"`
	StageADeadline time.Duration `yaml:"stage_a_deadline"`
	StageBDeadline time.Duration `yaml:"stage_b_deadline"`
	StageCDeadline time.Duration `yaml:"stage_c_deadline"`
	SeverityGate   float64       `yaml:"severity_gate"`
	MaxRetries     int           `yaml:"max_retries"`
	PopDeadline    time.Duration `yaml:"pop_deadline"`
}

// SupervisorConfig configures the health pulse and restart policy.
type SupervisorConfig struct {
	MetricsAddr              string        `yaml:"metrics_addr"`
	HealthPulseInterval      time.Duration `yaml:"health_pulse_interval"`
	ZeroFrameRateTimeout     time.Duration `yaml:"zero_frame_rate_timeout"`
	MaxStreamRestartsPerHour int           `yaml:"max_stream_restarts_per_hour"`
	ShutdownDrainTimeout     time.Duration `yaml:"shutdown_drain_timeout"`
}

// ReporterConfig configures the event reporter.
type ReporterConfig struct {
	SpoolPath           string        `yaml:"spool_path"`
	DeadLetterSpoolPath string        `yaml:"dead_letter_spool_path"`
	RetryBase           time.Duration `yaml:"retry_base"`
	RetryCap            time.Duration `yaml:"retry_cap"`
	RetryFactor         float64       `yaml:"retry_factor"`
	MaxAttempts         int           `yaml:"max_attempts"`
	SendTimeout         time.Duration `yaml:"send_timeout"`
}

// Default returns the zero-config defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Tracker: TrackerConfig{
			ConfMin:           0.5,
			KMiss:             5,
			EpsAbs:            4.0,
			EpsRel:            0.02,
			TStationary:       3 * time.Second,
			TViolation:        60 * time.Second,
			ReidWindow:        2 * time.Second,
			ReidIoUThreshold:  0.3,
			BBoxHistoryLen:    32,
			MatchIoUThreshold: 0.3,
		},
		Queue: QueueConfig{Capacity: 100},
		Pipeline: PipelineConfig{
			Workers:        3,
			StageADeadline: 500 * time.Millisecond,
			StageBDeadline: 300 * time.Millisecond,
			StageCDeadline: 800 * time.Millisecond,
			SeverityGate:   0.5,
			MaxRetries:     3,
			PopDeadline:    1 * time.Second,
		},
		Reporter: ReporterConfig{
			SpoolPath:           "./data/reporter_spool.ndjson",
			DeadLetterSpoolPath: "./data/reporter_dead_letter.ndjson",
			RetryBase:           1 * time.Second,
			RetryCap:            60 * time.Second,
			RetryFactor:         2.0,
			MaxAttempts:         5,
			SendTimeout:         30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			MetricsAddr:              ":9615",
			HealthPulseInterval:      10 * time.Second,
			ZeroFrameRateTimeout:     60 * time.Second,
			MaxStreamRestartsPerHour: 5,
			ShutdownDrainTimeout:     30 * time.Second,
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// SUP__SECTION__KEY environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, telemetry.Wrap("config", telemetry.ClassConfig, fmt.Errorf("reading config file: %w", err))
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, telemetry.Wrap("config", telemetry.ClassConfig, fmt.Errorf("parsing config file: %w", err))
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, telemetry.Wrap("config", telemetry.ClassConfig, err)
	}
	return cfg, nil
}

// Validate checks invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1")
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be >= 1")
	}
	if c.Tracker.TViolation <= c.Tracker.TStationary {
		return fmt.Errorf("tracker.t_violation must exceed tracker.t_stationary")
	}
	if c.Reporter.MaxAttempts < 1 {
		return fmt.Errorf("reporter.max_attempts must be >= 1")
	}
	return nil
}

// applyEnvOverrides maps SUP__SECTION__KEY environment variables onto
// their config fields.
// Hand-rolled rather than reflection-based or backed by a binding library:
// no env-binding dependency appears anywhere in the retrieved pack, and the
// config surface is small and fixed, so an explicit per-field table is
// the simplest choice.
func applyEnvOverrides(cfg *Config) {
	str := func(key string) (string, bool) {
		v, ok := os.LookupEnv("SUP__" + key)
		return v, ok
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := str(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	f64 := func(key string, dst *float64) {
		if v, ok := str(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	i := func(key string, dst *int) {
		if v, ok := str(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v, ok := str("BACKEND__BASE_URL"); ok {
		cfg.Backend.BaseURL = v
	}
	dur("BACKEND__TIMEOUT", &cfg.Backend.Timeout)

	f64("TRACKER__CONF_MIN", &cfg.Tracker.ConfMin)
	i("TRACKER__K_MISS", &cfg.Tracker.KMiss)
	f64("TRACKER__EPS_ABS", &cfg.Tracker.EpsAbs)
	f64("TRACKER__EPS_REL", &cfg.Tracker.EpsRel)
	dur("TRACKER__T_STATIONARY", &cfg.Tracker.TStationary)
	dur("TRACKER__T_VIOLATION", &cfg.Tracker.TViolation)
	dur("TRACKER__REID_WINDOW", &cfg.Tracker.ReidWindow)
	f64("TRACKER__REID_IOU_THRESHOLD", &cfg.Tracker.ReidIoUThreshold)

	i("QUEUE__CAPACITY", &cfg.Queue.Capacity)

	i("PIPELINE__WORKERS", &cfg.Pipeline.Workers)
	dur("PIPELINE__STAGE_A_DEADLINE", &cfg.Pipeline.StageADeadline)
	dur("PIPELINE__STAGE_B_DEADLINE", &cfg.Pipeline.StageBDeadline)
	dur("PIPELINE__STAGE_C_DEADLINE", &cfg.Pipeline.StageCDeadline)
	f64("PIPELINE__SEVERITY_GATE", &cfg.Pipeline.SeverityGate)
	i("PIPELINE__MAX_RETRIES", &cfg.Pipeline.MaxRetries)
	dur("PIPELINE__POP_DEADLINE", &cfg.Pipeline.PopDeadline)

	if v, ok := str("REPORTER__SPOOL_PATH"); ok {
		cfg.Reporter.SpoolPath = v
	}
	if v, ok := str("REPORTER__DEAD_LETTER_SPOOL_PATH"); ok {
		cfg.Reporter.DeadLetterSpoolPath = v
	}
	dur("REPORTER__RETRY_BASE", &cfg.Reporter.RetryBase)
	dur("REPORTER__RETRY_CAP", &cfg.Reporter.RetryCap)
	f64("REPORTER__RETRY_FACTOR", &cfg.Reporter.RetryFactor)
	i("REPORTER__MAX_ATTEMPTS", &cfg.Reporter.MaxAttempts)
	dur("REPORTER__SEND_TIMEOUT", &cfg.Reporter.SendTimeout)

	if v, ok := str("SUPERVISOR__METRICS_ADDR"); ok {
		cfg.Supervisor.MetricsAddr = v
	}
	dur("SUPERVISOR__HEALTH_PULSE_INTERVAL", &cfg.Supervisor.HealthPulseInterval)
	dur("SUPERVISOR__ZERO_FRAME_RATE_TIMEOUT", &cfg.Supervisor.ZeroFrameRateTimeout)
	i("SUPERVISOR__MAX_STREAM_RESTARTS_PER_HOUR", &cfg.Supervisor.MaxStreamRestartsPerHour)
	dur("SUPERVISOR__SHUTDOWN_DRAIN_TIMEOUT", &cfg.Supervisor.ShutdownDrainTimeout)
}

// sectionKeys is retained for documentation/testing purposes: the set of
// env var suffixes applyEnvOverrides recognizes.
var sectionKeys = []string{
	"BACKEND__BASE_URL", "BACKEND__TIMEOUT",
	"TRACKER__CONF_MIN", "TRACKER__K_MISS", "TRACKER__EPS_ABS", "TRACKER__EPS_REL",
	"TRACKER__T_STATIONARY", "TRACKER__T_VIOLATION", "TRACKER__REID_WINDOW", "TRACKER__REID_IOU_THRESHOLD",
	"QUEUE__CAPACITY",
	"PIPELINE__WORKERS", "PIPELINE__STAGE_A_DEADLINE", "PIPELINE__STAGE_B_DEADLINE", "PIPELINE__STAGE_C_DEADLINE",
	"PIPELINE__SEVERITY_GATE", "PIPELINE__MAX_RETRIES",
	"REPORTER__SPOOL_PATH", "REPORTER__DEAD_LETTER_SPOOL_PATH", "REPORTER__RETRY_BASE", "REPORTER__RETRY_CAP",
	"REPORTER__RETRY_FACTOR", "REPORTER__MAX_ATTEMPTS", "REPORTER__SEND_TIMEOUT", "PIPELINE__POP_DEADLINE",
	"SUPERVISOR__METRICS_ADDR", "SUPERVISOR__HEALTH_PULSE_INTERVAL", "SUPERVISOR__ZERO_FRAME_RATE_TIMEOUT",
	"SUPERVISOR__MAX_STREAM_RESTARTS_PER_HOUR", "SUPERVISOR__SHUTDOWN_DRAIN_TIMEOUT",
}

// KnownEnvKeys returns the recognized SUP__ environment variable suffixes.
func KnownEnvKeys() []string {
	out := make([]string, len(sectionKeys))
	copy(out, sectionKeys)
	return out
}

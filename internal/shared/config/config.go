package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Engine    EngineConfig
	LIMS      LIMSConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB),
// the bus carrying upstream change notifications into the engine.
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// LIMSConfig holds the connection settings for the legacy laboratory
// information system (SQL Server). When Enabled, bacilloscopy and
// case-yield counts come from the lab network instead of the
// screening/yield default ratios.
type LIMSConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// SampleTable is the bacilloscopy sample table
	SampleTable string
	// ResultTable is the confirmed-result table
	ResultTable string
}

// EngineConfig holds the indicator and alert engine options.
type EngineConfig struct {
	// EventCoalesceWindow is the quiescence window within which events
	// targeting the same bucket collapse into one recomputation.
	EventCoalesceWindow time.Duration
	// AlertTickInterval is the period of the alert rule evaluation loop.
	AlertTickInterval time.Duration
	// RecomputeDeadline bounds a single bucket recomputation.
	RecomputeDeadline time.Duration
	// RetryBackoffBase and RetryBackoffMax bound the requeue backoff for
	// retriable recomputation failures; past the cap the event is
	// dead-lettered.
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	// RecomputeWorkers is the size of the recomputation worker pool.
	RecomputeWorkers int

	// Defined-default ratios used while no laboratory fact source is
	// wired. A connected LIMS replaces the first two; DOT adherence
	// stays derived until dose administration records are integrated.
	ScreeningRatio float64 // bacilloscopies per symptomatic
	YieldRatio     float64 // confirmed cases per symptomatic
	AdherenceRatio float64 // adherent patients per DOT patient

	// Newborn defaults for BCG coverage until a birth registry source
	// is wired.
	NewbornsPerMonth int
	BCGCoverageRatio float64

	// Alert due offsets by rule family.
	OverdueAlertDue  time.Duration // follow-up rules: today + offset
	CriticalAlertDue time.Duration // critical results: today + offset
	// TreatmentEndingWindow is the look-ahead for expiring treatments.
	TreatmentEndingWindow time.Duration
	// ContactStudyOverdueAfter is the pending-study age that triggers
	// the follow-up rule.
	ContactStudyOverdueAfter time.Duration
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "procet"),
			Password: getEnv("DB_PASSWORD", "procet"),
			Database: getEnv("DB_NAME", "procet"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Engine: EngineConfig{
			EventCoalesceWindow:      getEnvDuration("EVENT_COALESCE_WINDOW", 5*time.Second),
			AlertTickInterval:        getEnvDuration("ALERT_TICK_INTERVAL", 5*time.Minute),
			RecomputeDeadline:        getEnvDuration("RECOMPUTE_DEADLINE", 30*time.Second),
			RetryBackoffBase:         getEnvDuration("RETRY_BACKOFF_BASE", 2*time.Second),
			RetryBackoffMax:          getEnvDuration("RETRY_BACKOFF_MAX", 10*time.Minute),
			RecomputeWorkers:         getEnvInt("RECOMPUTE_WORKERS", 4),
			ScreeningRatio:           getEnvFloat("OPERATIONAL_DEFAULT_SCREENING_RATIO", 0.8),
			YieldRatio:               getEnvFloat("OPERATIONAL_DEFAULT_YIELD_RATIO", 0.1),
			AdherenceRatio:           getEnvFloat("OPERATIONAL_DEFAULT_ADHERENCE_RATIO", 0.85),
			NewbornsPerMonth:         getEnvInt("PREVENTION_DEFAULT_NEWBORNS", 50),
			BCGCoverageRatio:         getEnvFloat("PREVENTION_DEFAULT_BCG_RATIO", 0.95),
			OverdueAlertDue:          getEnvDuration("ALERT_OVERDUE_DUE", 72*time.Hour),
			CriticalAlertDue:         getEnvDuration("ALERT_CRITICAL_DUE", 24*time.Hour),
			TreatmentEndingWindow:    getEnvDuration("ALERT_TREATMENT_ENDING_WINDOW", 7*24*time.Hour),
			ContactStudyOverdueAfter: getEnvDuration("ALERT_CONTACT_STUDY_OVERDUE_AFTER", 7*24*time.Hour),
		},
		LIMS: LIMSConfig{
			Enabled:     getEnvBool("LIMS_ENABLED", false),
			Host:        getEnv("LIMS_HOST", "localhost"),
			Port:        getEnvInt("LIMS_PORT", 1433),
			User:        getEnv("LIMS_USER", "procet_ro"),
			Password:    getEnv("LIMS_PASSWORD", ""),
			Database:    getEnv("LIMS_DATABASE", "lis"),
			SSLMode:     getEnv("LIMS_SSLMODE", "disable"),
			SampleTable: getEnv("LIMS_SAMPLE_TABLE", "dbo.BacilloscopySamples"),
			ResultTable: getEnv("LIMS_RESULT_TABLE", "dbo.ConfirmedResults"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

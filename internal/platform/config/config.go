package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full engine configuration, built from environment
// variables so main stays lean.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Engine   Engine
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Postgres captures the relational store connection.
type Postgres struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Redis captures the idempotency/cache store connection. Empty URL means
// Redis is not configured and in-memory fallbacks are used.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the evidence queue topology. Policy tuning (backoff
// curves, circuit thresholds, TTLs) belongs to the deployment, not here.
type Kafka struct {
	Brokers        []string
	EvidenceTopic  string
	DLQTopic       string
	FinalizedTopic string
	AnomalyTopic   string
	ConsumerGroup  string
	MaxRetries     int
}

// Engine captures the verification parameters. Every threshold that is
// deployment policy rather than invariant is configurable here.
type Engine struct {
	DefaultRoundCount    int
	WindowTolerance      time.Duration
	GraceWindow          time.Duration
	GracePeriod          time.Duration
	PeerOverlapThreshold float64
	MaxAccuracyMeters    float64
	PresentThreshold     float64
	PartialThreshold     float64
	SpeedCeilingKMH      float64
	TeleportCeilingKMH   float64
	MissedThreshold      time.Duration
	SweepInterval        time.Duration
	ZeroRoundsPresent    bool // policy default when a session requires zero rounds
}

// FromEnv builds the configuration from environment variables, applying
// development defaults for anything unset.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("ROLLCALL_ADDR", ":8080"),
			ShutdownTimeout: envDuration("ROLLCALL_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{
			DSN:          os.Getenv("ROLLCALL_POSTGRES_DSN"),
			MaxOpenConns: envInt("ROLLCALL_POSTGRES_MAX_OPEN", 25),
			MaxIdleConns: envInt("ROLLCALL_POSTGRES_MAX_IDLE", 5),
		},
		Redis: Redis{
			URL:          os.Getenv("ROLLCALL_REDIS_URL"),
			PoolSize:     envInt("ROLLCALL_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("ROLLCALL_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("ROLLCALL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("ROLLCALL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("ROLLCALL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:        envStrings("ROLLCALL_KAFKA_BROKERS", nil),
			EvidenceTopic:  envString("ROLLCALL_TOPIC_EVIDENCE", "rollcall.evidence"),
			DLQTopic:       envString("ROLLCALL_TOPIC_EVIDENCE_DLQ", "rollcall.evidence.dlq"),
			FinalizedTopic: envString("ROLLCALL_TOPIC_FINALIZED", "rollcall.attendance.finalized"),
			AnomalyTopic:   envString("ROLLCALL_TOPIC_ANOMALIES", "rollcall.anomalies"),
			ConsumerGroup:  envString("ROLLCALL_CONSUMER_GROUP", "rollcall-engine"),
			MaxRetries:     envInt("ROLLCALL_CONSUMER_MAX_RETRIES", 5),
		},
		Engine: Engine{
			DefaultRoundCount:    envInt("ROLLCALL_DEFAULT_ROUND_COUNT", 5),
			WindowTolerance:      envDuration("ROLLCALL_WINDOW_TOLERANCE", time.Minute),
			GraceWindow:          envDuration("ROLLCALL_GRACE_WINDOW", 2*time.Minute),
			GracePeriod:          envDuration("ROLLCALL_GRACE_PERIOD", 24*time.Hour),
			PeerOverlapThreshold: envFloat("ROLLCALL_PEER_OVERLAP_THRESHOLD", 0.5),
			MaxAccuracyMeters:    envFloat("ROLLCALL_MAX_ACCURACY_METERS", 50),
			PresentThreshold:     envFloat("ROLLCALL_PRESENT_THRESHOLD", 80),
			PartialThreshold:     envFloat("ROLLCALL_PARTIAL_THRESHOLD", 60),
			SpeedCeilingKMH:      envFloat("ROLLCALL_SPEED_CEILING_KMH", 150),
			TeleportCeilingKMH:   envFloat("ROLLCALL_TELEPORT_CEILING_KMH", 1000),
			MissedThreshold:      envDuration("ROLLCALL_MISSED_THRESHOLD", time.Hour),
			SweepInterval:        envDuration("ROLLCALL_SWEEP_INTERVAL", 30*time.Second),
			ZeroRoundsPresent:    envBool("ROLLCALL_ZERO_ROUNDS_PRESENT", true),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envStrings(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("config: %s must be an integer, got %q", key, v))
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		panic(fmt.Sprintf("config: %s must be a number, got %q", key, v))
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Sprintf("config: %s must be a duration, got %q", key, v))
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

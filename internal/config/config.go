package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Artifact store.
	ArtifactDir          string
	ArtifactLockTTL      time.Duration
	ArtifactKeepVersions int
	RefreshInterval      time.Duration

	// Artifact update events.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaArtifactTopic string
	KafkaGroupID       string

	// Observation history: Postgres when DatabaseURL is set, otherwise HistoryCSV.
	DatabaseURL      string
	HistoryCSV       string
	HistoryCacheSize int
	ImportBatchSize  int

	// Capacity and feedback state: Redis when RedisAddr is set, otherwise in memory.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Training.
	TrainSchedule string
	TrainRatio    float64
	TrainSeed     uint64

	// Rule heuristics.
	HighRiskRegions   []string
	MediumRiskRegions []string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	importBatchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	lockTTL, err := parseDuration("ARTIFACT_LOCK_TTL", "30m", false)
	if err != nil {
		return nil, err
	}
	refreshInterval, err := parseDuration("REGISTRY_REFRESH_INTERVAL", "5m", true)
	if err != nil {
		return nil, err
	}
	keepVersions, err := parsePositiveInt("ARTIFACT_KEEP_VERSIONS", 5)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("HISTORY_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, errors.New("invalid REDIS_DB")
	}

	trainRatio, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("TRAIN_RATIO", "0.8"), 64)
	if err != nil || trainRatio <= 0 || trainRatio >= 1 {
		return nil, errors.New("invalid TRAIN_RATIO: must be between 0 and 1")
	}
	trainSeed, err := strconv.ParseUint(sharedcfg.EnvOrDefault("TRAIN_SEED", "42"), 10, 64)
	if err != nil {
		return nil, errors.New("invalid TRAIN_SEED")
	}

	brokers := sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ArtifactDir:          sharedcfg.EnvOrDefault("ARTIFACT_DIR", "./artifacts"),
		ArtifactLockTTL:      lockTTL,
		ArtifactKeepVersions: keepVersions,
		RefreshInterval:      refreshInterval,

		KafkaEnabled:       kafkaEnabled,
		KafkaBrokers:       brokers,
		KafkaArtifactTopic: sharedcfg.EnvOrDefault("KAFKA_ARTIFACT_TOPIC", "model-artifacts-updated"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "climate-health-predictor"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		HistoryCSV:       os.Getenv("HISTORY_CSV"),
		HistoryCacheSize: cacheSize,
		ImportBatchSize:  importBatchSize,

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		RedisKeyPrefix: sharedcfg.EnvOrDefault("REDIS_KEY_PREFIX", "climate-health"),

		TrainSchedule: sharedcfg.EnvOrDefault("TRAIN_SCHEDULE", "0 0 2 * * *"),
		TrainRatio:    trainRatio,
		TrainSeed:     trainSeed,

		HighRiskRegions:   parseList(os.Getenv("HIGH_RISK_REGIONS")),
		MediumRiskRegions: parseList(os.Getenv("MEDIUM_RISK_REGIONS")),
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaArtifactTopic == "" {
		return nil, errors.New("KAFKA_ARTIFACT_TOPIC is required")
	}

	return cfg, nil
}

// parseDuration reads a positive duration, or zero when allowZero is set.
func parseDuration(name, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}

// parseList splits a comma-separated list, dropping empty entries. Nil means unset.
func parseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

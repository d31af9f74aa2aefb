package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "./artifacts", cfg.ArtifactDir)
	assert.Equal(t, 30*time.Minute, cfg.ArtifactLockTTL)
	assert.Equal(t, 5, cfg.ArtifactKeepVersions)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "model-artifacts-updated", cfg.KafkaArtifactTopic)
	assert.Equal(t, "climate-health-predictor", cfg.KafkaGroupID)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 1000, cfg.HistoryCacheSize)
	assert.Equal(t, 50, cfg.ImportBatchSize)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, "climate-health", cfg.RedisKeyPrefix)
	assert.Equal(t, "0 0 2 * * *", cfg.TrainSchedule)
	assert.Equal(t, 0.8, cfg.TrainRatio)
	assert.Equal(t, uint64(42), cfg.TrainSeed)
	assert.Nil(t, cfg.HighRiskRegions)
	assert.Nil(t, cfg.MediumRiskRegions)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("ARTIFACT_DIR", "/var/lib/models")
	t.Setenv("ARTIFACT_LOCK_TTL", "2h")
	t.Setenv("ARTIFACT_KEEP_VERSIONS", "10")
	t.Setenv("REGISTRY_REFRESH_INTERVAL", "0s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_ARTIFACT_TOPIC", "artifacts")
	t.Setenv("KAFKA_GROUP_ID", "predictor-1")
	t.Setenv("DATABASE_URL", "postgres://localhost/climate")
	t.Setenv("HISTORY_CACHE_SIZE", "20")
	t.Setenv("BATCH_SIZE", "200")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("TRAIN_SCHEDULE", "@hourly")
	t.Setenv("TRAIN_RATIO", "0.75")
	t.Setenv("TRAIN_SEED", "7")
	t.Setenv("HIGH_RISK_REGIONS", "Delhi, Patna,,")
	t.Setenv("MEDIUM_RISK_REGIONS", "Pune")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/var/lib/models", cfg.ArtifactDir)
	assert.Equal(t, 2*time.Hour, cfg.ArtifactLockTTL)
	assert.Equal(t, 10, cfg.ArtifactKeepVersions)
	assert.Zero(t, cfg.RefreshInterval)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "artifacts", cfg.KafkaArtifactTopic)
	assert.Equal(t, "predictor-1", cfg.KafkaGroupID)
	assert.Equal(t, "postgres://localhost/climate", cfg.DatabaseURL)
	assert.Equal(t, 20, cfg.HistoryCacheSize)
	assert.Equal(t, 200, cfg.ImportBatchSize)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "@hourly", cfg.TrainSchedule)
	assert.Equal(t, 0.75, cfg.TrainRatio)
	assert.Equal(t, uint64(7), cfg.TrainSeed)
	assert.Equal(t, []string{"Delhi", "Patna"}, cfg.HighRiskRegions)
	assert.Equal(t, []string{"Pune"}, cfg.MediumRiskRegions)
}

func TestLoad_KafkaDisabledExplicitly(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092")
	t.Setenv("KAFKA_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"shutdown timeout", "SHUTDOWN_TIMEOUT", "not-a-duration", "SHUTDOWN_TIMEOUT"},
		{"negative shutdown timeout", "SHUTDOWN_TIMEOUT", "-1s", "SHUTDOWN_TIMEOUT"},
		{"lock ttl", "ARTIFACT_LOCK_TTL", "0s", "ARTIFACT_LOCK_TTL"},
		{"refresh interval", "REGISTRY_REFRESH_INTERVAL", "-5m", "REGISTRY_REFRESH_INTERVAL"},
		{"keep versions", "ARTIFACT_KEEP_VERSIONS", "0", "ARTIFACT_KEEP_VERSIONS"},
		{"cache size", "HISTORY_CACHE_SIZE", "many", "HISTORY_CACHE_SIZE"},
		{"redis db", "REDIS_DB", "-1", "REDIS_DB"},
		{"train ratio", "TRAIN_RATIO", "1.5", "TRAIN_RATIO"},
		{"train seed", "TRAIN_SEED", "-3", "TRAIN_SEED"},
		{"kafka without brokers", "KAFKA_ENABLED", "true", "KAFKA_BROKERS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8084", cfg.Port)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "swiftride_tracking", cfg.DB.DBName)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "swiftride-", cfg.Kafka.GroupPrefix)
	assert.Equal(t, "swiftride/trips/+/location", cfg.MQTT.LocationTopic)
	assert.Equal(t, "tracking.alerts", cfg.Rabbit.Exchange)

	assert.InDelta(t, 500.0, cfg.Monitor.MinorThresholdMeters, 1e-9)
	assert.InDelta(t, 1500.0, cfg.Monitor.SignificantThresholdMeters, 1e-9)
	assert.InDelta(t, 3000.0, cfg.Monitor.CriticalThresholdMeters, 1e-9)
	assert.Equal(t, 3, cfg.Monitor.AlertAfterCount)
	assert.Equal(t, 60, cfg.Monitor.DispatchCooldownSeconds)
	assert.Equal(t, 256, cfg.Monitor.DispatchQueueSize)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TRACKING_SERVICE_PORT", "9090")
	t.Setenv("TRACKING_APP_ENV", "production")
	t.Setenv("TRACKING_DB_HOST", "db.internal")
	t.Setenv("TRACKING_DB_PORT", "5433")
	t.Setenv("TRACKING_JWT_SECRET", "prod-secret")
	t.Setenv("TRACKING_MQTT_LOCATION_TOPIC", "fleet/+/geo")
	t.Setenv("TRACKING_MONITOR_MINOR_THRESHOLD_METERS", "250")
	t.Setenv("TRACKING_MONITOR_ALERT_AFTER_COUNT", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5433, cfg.DB.Port)
	assert.Equal(t, "prod-secret", cfg.JWT.Secret)
	assert.Equal(t, "fleet/+/geo", cfg.MQTT.LocationTopic)
	assert.InDelta(t, 250.0, cfg.Monitor.MinorThresholdMeters, 1e-9)
	assert.Equal(t, 5, cfg.Monitor.AlertAfterCount)
}

func TestLoad_RejectsMisorderedThresholds(t *testing.T) {
	t.Setenv("TRACKING_MONITOR_SIGNIFICANT_THRESHOLD_METERS", "400")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minor threshold")
}

func TestLoad_RejectsCriticalBelowSignificant(t *testing.T) {
	t.Setenv("TRACKING_MONITOR_CRITICAL_THRESHOLD_METERS", "1000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below significant threshold")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("TRACKING_MONITOR_ALERT_AFTER_COUNT", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

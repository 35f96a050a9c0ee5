package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwatch/schema-change-notifier/internal/errs"
)

func validConfig() *Config {
	return &Config{
		AuditLog: AuditLogConfig{BootstrapServers: "broker:9092", APIKey: "k", APISecret: "s", Topic: "audit"},
		Environments: map[string]EnvironmentConfig{
			"env-1": {SchemaRegistryURL: "https://sr.example", APIKey: "k", APISecret: "s"},
		},
		Target:               TargetConfig{BootstrapServers: "broker:9092", APIKey: "k", APISecret: "s", Topic: "notifications"},
		TargetSchemaRegistry: TargetSchemaRegistryConfig{URL: "https://sr.example", APIKey: "k", APISecret: "s"},
		ProcessingMode:       ModeStream,
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_AggregatesMultipleProblems(t *testing.T) {
	cfg := &Config{ProcessingMode: ModeStream}
	err := cfg.Validate()
	require.Error(t, err)
	var cerr *errs.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.GreaterOrEqual(t, len(cerr.Reasons), 5)
}

func TestValidate_TimestampModeRequiresStartTimestamp(t *testing.T) {
	cfg := validConfig()
	cfg.ProcessingMode = ModeTimestamp
	err := cfg.Validate()
	require.Error(t, err)
	var cerr *errs.ConfigError
	require.ErrorAs(t, err, &cerr)
	found := false
	for _, r := range cerr.Reasons {
		if r == "start.timestamp is required when processing.mode is TIMESTAMP" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_ClampsInvalidNumericKnobs(t *testing.T) {
	cfg := validConfig()
	cfg.ProcessingThreads = -1
	cfg.BatchSize = 0
	cfg.PollTimeout = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.ProcessingThreads)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Greater(t, int64(cfg.PollTimeout), int64(0))
}

func TestValidate_IncludeConfigChangesAppendsMethods(t *testing.T) {
	cfg := validConfig()
	cfg.Filter.IncludeConfigChanges = true
	cfg.Filter.MethodNames = []string{"schema-registry.RegisterSchema"}
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.Filter.MethodNames, "schema-registry.UpdateCompatibility")
	assert.Contains(t, cfg.Filter.MethodNames, "schema-registry.UpdateMode")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	v := viper.New()
	v.Set("audit_log.bootstrap_servers", "broker:9092")
	v.Set("audit_log.api_key", "k")
	v.Set("audit_log.api_secret", "s")
	v.Set("environments.env-1.schema_registry_url", "https://sr.example")
	v.Set("environments.env-1.api_key", "k")
	v.Set("environments.env-1.api_secret", "s")
	v.Set("target.bootstrap_servers", "broker:9092")
	v.Set("target.api_key", "k")
	v.Set("target.api_secret", "s")
	v.Set("target.topic", "notifications")
	v.Set("target_schema_registry.url", "https://sr.example")
	v.Set("target_schema_registry.api_key", "k")
	v.Set("target_schema_registry.api_secret", "s")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultAuditTopic, cfg.AuditLog.Topic)
	assert.Equal(t, DefaultConsumerGroupID, cfg.ConsumerGroupID)
	assert.Equal(t, ModeStream, cfg.ProcessingMode)
}

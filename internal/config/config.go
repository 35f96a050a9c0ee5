// Package config loads and validates the pipeline's configuration surface
// (spec.md §6): audit source, per-environment registries, target broker
// and registry, processing mode, filters, dedup, security, and the
// ambient health/CLI knobs. Grounded on
// CloudPasture-kubevirt-shepherd/internal/config/config.go: viper for
// layered file/env/default resolution, mapstructure tags, SetEnvKeyReplacer
// to map dotted keys to underscore-separated env vars, and a Validate()
// that aggregates every problem into one error instead of failing on the
// first.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/streamwatch/schema-change-notifier/internal/errs"
)

// ProcessingMode selects the audit consumer's startup positioning
// strategy (spec.md §4.4).
type ProcessingMode string

const (
	ModeStream    ProcessingMode = "STREAM"
	ModeBackfill  ProcessingMode = "BACKFILL"
	ModeTimestamp ProcessingMode = "TIMESTAMP"
	ModeResume    ProcessingMode = "RESUME"
)

// EnvironmentConfig holds one tenant's schema registry credentials
// (spec.md §3). All four fields are required once the environment is
// declared.
type EnvironmentConfig struct {
	EnvID             string `mapstructure:"env_id"`
	SchemaRegistryURL string `mapstructure:"schema_registry_url"`
	APIKey            string `mapstructure:"api_key"`
	APISecret         string `mapstructure:"api_secret"`
}

func (e EnvironmentConfig) validate() []string {
	var problems []string
	if e.SchemaRegistryURL == "" {
		problems = append(problems, fmt.Sprintf("environments.%s.schema.registry.url must not be empty", e.EnvID))
	}
	if e.APIKey == "" {
		problems = append(problems, fmt.Sprintf("environments.%s.schema.registry.api.key must not be empty", e.EnvID))
	}
	if e.APISecret == "" {
		problems = append(problems, fmt.Sprintf("environments.%s.schema.registry.api.secret must not be empty", e.EnvID))
	}
	return problems
}

// AuditLogConfig describes the source audit stream (spec.md §6).
type AuditLogConfig struct {
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	APIKey           string `mapstructure:"api_key"`
	APISecret        string `mapstructure:"api_secret"`
	Topic            string `mapstructure:"topic"`
}

// TargetConfig describes the downstream broker and topic.
type TargetConfig struct {
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	APIKey           string `mapstructure:"api_key"`
	APISecret        string `mapstructure:"api_secret"`
	Topic            string `mapstructure:"topic"`
}

// TargetSchemaRegistryConfig describes the registry used to pre-register
// and serialize the notification schema.
type TargetSchemaRegistryConfig struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// FilterConfig describes the classifier's relevance rules (spec.md §4.5,
// §6).
type FilterConfig struct {
	MethodNames          []string `mapstructure:"method_names"`
	IncludeConfigChanges bool     `mapstructure:"include_config_changes"`
	Subjects             []string `mapstructure:"subjects"`
	OnlySuccessful       bool     `mapstructure:"only_successful"`
}

// Config is the root configuration tree.
type Config struct {
	AuditLog             AuditLogConfig               `mapstructure:"audit_log"`
	Environments         map[string]EnvironmentConfig `mapstructure:"environments"`
	Target               TargetConfig                 `mapstructure:"target"`
	TargetSchemaRegistry TargetSchemaRegistryConfig   `mapstructure:"target_schema_registry"`
	ProcessingMode       ProcessingMode               `mapstructure:"processing_mode"`
	StartTimestamp       string                       `mapstructure:"start_timestamp"`
	EndTimestamp         string                       `mapstructure:"end_timestamp"`
	StopAtCurrent        bool                         `mapstructure:"stop_at_current"`
	ConsumerGroupID      string                       `mapstructure:"consumer_group_id"`
	Filter               FilterConfig                 `mapstructure:"filter"`
	EnableDeduplication  bool                         `mapstructure:"enable_deduplication"`
	StateStorePath       string                       `mapstructure:"state_store_path"`
	SecurityProtocol     string                       `mapstructure:"security_protocol"`
	SASLMechanism        string                       `mapstructure:"sasl_mechanism"`
	HealthPort           int                          `mapstructure:"health_port"`
	ProcessingThreads    int                          `mapstructure:"processing_threads"`
	DryRun               bool                         `mapstructure:"dry_run"`
	PollTimeout          time.Duration                `mapstructure:"poll_timeout"`
	BatchSize            int                          `mapstructure:"batch_size"`
	LogLevel             string                       `mapstructure:"log_level"`
	LogFormat            string                       `mapstructure:"log_format"`
}

// Load reads configuration from (in ascending priority) defaults, an
// optional config.yaml, and environment variables. CLI flags, when bound
// by the caller via v.BindPFlag before Load is invoked, take the highest
// priority of all (viper's normal precedence).
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/schema-change-notifier")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default* constants are shared with cmd/schema-change-notifier's flag
// declarations so a pflag's own zero-value default can never silently
// shadow the default this package would otherwise apply (viper resolves
// an unset-but-bound flag's default ahead of a key registered only via
// SetDefault).
const (
	DefaultAuditTopic          = "confluent-audit-log-events"
	DefaultConsumerGroupID     = "schema-change-notifier"
	DefaultStateStorePath      = "./schema-change-notifier-state.json"
	DefaultSecurityProtocol    = "SASL_SSL"
	DefaultSASLMechanism       = "PLAIN"
	DefaultHealthPort          = 8080
	DefaultProcessingThreads   = 1
	DefaultPollTimeout         = "1s"
	DefaultBatchSize           = 100
	DefaultProcessingMode      = string(ModeStream)
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultEnableDeduplication = true
	DefaultOnlySuccessful      = true
)

// DefaultMethodNames is the filter.method_names default.
var DefaultMethodNames = []string{
	"schema-registry.RegisterSchema",
	"schema-registry.DeleteSchema",
	"schema-registry.DeleteSubject",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.topic", "")
	v.SetDefault("audit_log.topic", DefaultAuditTopic)
	v.SetDefault("consumer_group_id", DefaultConsumerGroupID)
	v.SetDefault("filter.only_successful", DefaultOnlySuccessful)
	v.SetDefault("enable_deduplication", DefaultEnableDeduplication)
	v.SetDefault("state_store_path", DefaultStateStorePath)
	v.SetDefault("security_protocol", DefaultSecurityProtocol)
	v.SetDefault("sasl_mechanism", DefaultSASLMechanism)
	v.SetDefault("health_port", DefaultHealthPort)
	v.SetDefault("processing_threads", DefaultProcessingThreads)
	v.SetDefault("dry_run", false)
	v.SetDefault("poll_timeout", DefaultPollTimeout)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("processing_mode", DefaultProcessingMode)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("filter.method_names", DefaultMethodNames)
}

// Validate checks every startup invariant from spec.md §4.7 step 1,
// aggregating every problem instead of stopping at the first so an
// operator sees the whole list at once.
func (c *Config) Validate() error {
	var problems []string

	if c.AuditLog.BootstrapServers == "" {
		problems = append(problems, "audit.log.bootstrap.servers must not be empty")
	}
	if c.AuditLog.APIKey == "" {
		problems = append(problems, "audit.log.api.key must not be empty")
	}
	if c.AuditLog.APISecret == "" {
		problems = append(problems, "audit.log.api.secret must not be empty")
	}
	if len(c.Environments) == 0 {
		problems = append(problems, "at least one environments.<envId> entry is required")
	}
	for id, env := range c.Environments {
		env.EnvID = id
		problems = append(problems, env.validate()...)
	}

	if c.Target.BootstrapServers == "" {
		problems = append(problems, "target.bootstrap.servers must not be empty")
	}
	if c.Target.APIKey == "" {
		problems = append(problems, "target.api.key must not be empty")
	}
	if c.Target.APISecret == "" {
		problems = append(problems, "target.api.secret must not be empty")
	}
	if c.Target.Topic == "" {
		problems = append(problems, "target.topic must not be empty")
	}
	if c.TargetSchemaRegistry.URL == "" {
		problems = append(problems, "target.schema.registry.url must not be empty")
	}
	if c.TargetSchemaRegistry.APIKey == "" {
		problems = append(problems, "target.schema.registry.api.key must not be empty")
	}
	if c.TargetSchemaRegistry.APISecret == "" {
		problems = append(problems, "target.schema.registry.api.secret must not be empty")
	}

	if c.ProcessingMode == ModeTimestamp && c.StartTimestamp == "" {
		problems = append(problems, "start.timestamp is required when processing.mode is TIMESTAMP")
	}

	if c.ProcessingThreads <= 0 {
		c.ProcessingThreads = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}

	// The config knob that adds UpdateCompatibility/UpdateMode to the
	// method allow-list (spec.md §6), applied once here so downstream
	// code only ever reads Filter.MethodNames.
	if c.Filter.IncludeConfigChanges {
		c.Filter.MethodNames = append(c.Filter.MethodNames,
			"schema-registry.UpdateCompatibility",
			"schema-registry.UpdateMode",
		)
	}

	if len(problems) > 0 {
		return &errs.ConfigError{Reasons: problems}
	}
	return nil
}

// Package main is the entry point for the schema-change-notifier
// pipeline: a cobra root command with a "run" subcommand binding the
// spec's configuration surface through viper, grounded on
// axonops-axonops-schema-registry/cmd/schema-registry-admin/main.go's
// cobra conventions.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
	"github.com/streamwatch/schema-change-notifier/internal/runner"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configFile   string
	environments []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "schema-change-notifier",
		Short:   "Notifies a downstream topic of schema registry mutations observed in an audit log stream",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config.yaml file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the notification pipeline",
		RunE:  runPipeline,
	}
	bindRunFlags(runCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("schema-change-notifier %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bindRunFlags declares every spec.md §6 configuration key as a flag and
// binds it into viper so CLI > env > config-file > default precedence
// holds for all of them.
func bindRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	// Flag names use underscores, matching the mapstructure tags in
	// internal/config so viper's Unmarshal sees the same keys regardless
	// of whether a value came from a flag, a config file, or an env var.
	flags.String("audit_log.bootstrap_servers", "", "audit log broker bootstrap servers")
	flags.String("audit_log.api_key", "", "audit log broker API key")
	flags.String("audit_log.api_secret", "", "audit log broker API secret")
	flags.String("audit_log.topic", config.DefaultAuditTopic, "audit log topic")

	flags.String("target.bootstrap_servers", "", "target broker bootstrap servers")
	flags.String("target.api_key", "", "target broker API key")
	flags.String("target.api_secret", "", "target broker API secret")
	flags.String("target.topic", "", "target topic")

	flags.String("target_schema_registry.url", "", "target schema registry URL")
	flags.String("target_schema_registry.api_key", "", "target schema registry API key")
	flags.String("target_schema_registry.api_secret", "", "target schema registry API secret")

	flags.String("processing_mode", config.DefaultProcessingMode, "STREAM, BACKFILL, TIMESTAMP, or RESUME")
	flags.String("start_timestamp", "", "RFC3339 timestamp, required for TIMESTAMP mode")
	flags.String("end_timestamp", "", "RFC3339 timestamp cutoff")
	flags.Bool("stop_at_current", false, "stop once the partition's assignment-time end offset is reached")
	flags.String("consumer_group_id", config.DefaultConsumerGroupID, "audit log consumer group id")

	flags.StringArrayVar(&environments, "environment", nil, "repeatable envId=url,apiKey,apiSecret tenant schema registry entry")

	flags.StringSlice("filter.method_names", config.DefaultMethodNames, "comma-separated list of allowed methodName values")
	flags.Bool("filter.include_config_changes", false, "also allow UpdateCompatibility and UpdateMode")
	flags.StringSlice("filter.subjects", nil, "comma-separated list of subject globs ('*' supported)")
	flags.Bool("filter.only_successful", config.DefaultOnlySuccessful, "only notify on SUCCESS audit results")

	flags.String("security_protocol", config.DefaultSecurityProtocol, "broker security protocol")
	flags.String("sasl_mechanism", config.DefaultSASLMechanism, "broker SASL mechanism")

	flags.Bool("enable_deduplication", config.DefaultEnableDeduplication, "enable the durable dedup store")
	flags.String("state_store_path", config.DefaultStateStorePath, "path to the dedup store's state file")

	flags.Int("health_port", config.DefaultHealthPort, "health/metrics HTTP port, 0 disables it")
	flags.Int("processing_threads", config.DefaultProcessingThreads, "worker pool size")
	flags.Bool("dry_run", false, "log notifications instead of publishing them")
	flags.Duration("poll_timeout", time.Second, "broker poll timeout")
	flags.Int("batch_size", config.DefaultBatchSize, "max records per poll")

	flags.String("log_level", config.DefaultLogLevel, "debug, info, warn, or error")
	flags.String("log_format", config.DefaultLogFormat, "json or console")

	_ = viper.BindPFlags(flags)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := applyEnvironmentFlags(v, environments); err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger, err := logging.NewZap(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("construct logger: %w", err)
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return err
	}

	return r.Run(context.Background())
}

// applyEnvironmentFlags parses repeated --environment envId=url,apiKey,apiSecret
// flags into viper's environments.<envId>.* keys, per SPEC_FULL.md §4.8 ("A1").
// Config-file or env-var-declared environments are left untouched; this only
// adds entries named on the command line.
func applyEnvironmentFlags(v *viper.Viper, entries []string) error {
	for _, entry := range entries {
		envID, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid --environment %q, want envId=url,apiKey,apiSecret", entry)
		}
		parts := strings.Split(rest, ",")
		if len(parts) != 3 {
			return fmt.Errorf("invalid --environment %q, want envId=url,apiKey,apiSecret", entry)
		}
		v.Set("environments."+envID+".schema_registry_url", parts[0])
		v.Set("environments."+envID+".api_key", parts[1])
		v.Set("environments."+envID+".api_secret", parts[2])
	}
	return nil
}

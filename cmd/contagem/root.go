package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drblury/tracedqueue/internal/runtime/config"
	"github.com/drblury/tracedqueue/internal/storage"
	"github.com/drblury/tracedqueue/transport/servicebus"
)

const envPrefix = "CONTAGEM"

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "contagem",
		Short: "Counter API and worker connected through a traced queue",
		Long: `contagem increments a counter over HTTP and sends every result to a queue.
The worker receives the results, continues the trace started by the API and
stores them.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newAPICmd(v), newWorkerCmd(v))
	return root
}

// setDefaults mirrors the behaviour of a local run: Service Bus as the
// transport, the queue "contagem" and results stored in a SQLite file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", servicebus.TransportName)
	v.SetDefault("queue", "contagem")
	v.SetDefault("servicebus_transport_mode", config.ServiceBusModeAMQPWebSockets)
	v.SetDefault("channel_name", "contagem")
	v.SetDefault("sqlite_file", "contagem-queue.db")
	v.SetDefault("api_address", ":8080")
	v.SetDefault("database_driver", storage.DriverSQLite)
	v.SetDefault("database_dsn", storage.DefaultSQLiteDSN)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("cors_allowed_origins", []string{"*"})
	v.SetDefault("tracing_enabled", true)
	v.SetDefault("heartbeat_interval", "1m")
	v.SetDefault("shutdown_timeout", "30s")
	v.SetDefault("log_level", "info")
}

// loadConfig reads defaults, the optional config file and CONTAGEM_*
// environment variables, in increasing order of precedence.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about, so every field is bound
	// explicitly to its environment variable.
	for _, key := range configKeys() {
		_ = v.BindEnv(key)
	}

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.InstanceName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "contagem"
		}
		cfg.InstanceName = host
	}
	if cfg.Producer == "" {
		cfg.Producer = cfg.InstanceName
	}
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.InstanceName
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configKeys() []string {
	t := reflect.TypeOf(config.Config{})
	keys := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		if tag := t.Field(i).Tag.Get("mapstructure"); tag != "" && tag != "-" {
			keys = append(keys, tag)
		}
	}
	return keys
}

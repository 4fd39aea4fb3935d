package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/propfolio/gatekeeper/pkg/logger"
)

// LoadConfig loads the configuration from file and environment variables.
// Environment variables use the GATEKEEPER_ prefix with underscores for
// nesting, e.g. GATEKEEPER_REDIS_DB.
func LoadConfig(log logger.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/gatekeeper/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info(context.Background(), "No config file found, using defaults and environment")
	}

	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The returned Config is read concurrently after startup, so the watcher
	// never writes through it. File edits are validated and logged; they take
	// effect on the next restart.
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info(context.Background(), "Config file changed, restart to apply",
			logger.String("file", e.Name))

		var updated Config
		if err := v.Unmarshal(&updated); err != nil {
			log.Error(context.Background(), "Changed config file is unreadable", err)
			return
		}
		if err := updated.Validate(); err != nil {
			log.Error(context.Background(), "Changed config file is invalid", err)
		}
	})
	v.WatchConfig()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 60)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.fail_open", true)

	v.SetDefault("quota.enabled", true)
	v.SetDefault("quota.fail_open", true)
	v.SetDefault("quota.default_tier", "free")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.audit_topic", "gatekeeper.audit")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "gatekeeper")
	v.SetDefault("tracing.environment", "development")
}

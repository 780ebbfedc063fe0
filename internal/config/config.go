package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/arguana-embed/internal/embeddings"
)

// EnvPrefix prefixes environment overrides, e.g. ARGUANA_MODEL_NAME
const EnvPrefix = "ARGUANA"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.GetViper(), configPath)
}

// LoadWith loads configuration through v, so command-line flags bound to v take part
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	registerDefaults(v, "", reflect.ValueOf(GetDefaults()).Elem())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/arguana-embed/")
	v.AddConfigPath("$HOME/.arguana-embed/")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("%w: %v", embeddings.ErrConfigError, err)
	}

	return config, nil
}

// registerDefaults makes every leaf key known to viper so env overrides apply to it
func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			registerDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if _, err := embeddings.LookupFamily(config.Model.Name); err != nil {
		return err
	}

	if _, err := embeddings.ParseDevices(config.Model.Devices); err != nil {
		return err
	}

	if config.Model.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", config.Model.BatchSize)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %g", config.Server.RateLimit)
	}

	if config.Server.RateLimit > 0 && config.Server.Burst <= 0 {
		return fmt.Errorf("invalid burst: %d (must be positive when rate limiting)", config.Server.Burst)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache enabled without redis_url")
	}

	if config.Store.Enabled && config.Store.DatabaseURL == "" {
		return fmt.Errorf("store enabled without database_url")
	}

	if !config.Hub.AutoDownload && config.Hub.CacheDir == "" {
		return fmt.Errorf("hub cache_dir is required when auto_download is off")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch reloads the configuration file through v on change. Invalid
// reloads are reported to onError and leave the running config untouched.
func Watch(v *viper.Viper, callback func(*Config), onError func(error)) {
	var last time.Time
	v.OnConfigChange(func(e fsnotify.Event) {
		// Editors often emit several events per save
		if time.Since(last) < 100*time.Millisecond {
			return
		}
		last = time.Now()

		newConfig := &Config{}
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()
}

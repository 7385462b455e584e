// Package config loads server settings from defaults, an optional YAML file,
// the environment and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment variables. Keys also answer to the
// unprefixed names in their env tag.
const EnvPrefix = "LISTS"

// ConfigFlag names the flag pointing at a YAML config file.
const ConfigFlag = "config"

// Config holds every server setting. The mapstructure tag is the key used by
// flags and config files; env lists extra environment variable names.
type Config struct {
	Host string `mapstructure:"host" yaml:"host" env:"HOST" default:"0.0.0.0" description:"the host address to bind to"`
	Port int    `mapstructure:"port" yaml:"port" env:"PORT" default:"8080" description:"the port to bind to"`

	DataDir      string `mapstructure:"data-dir" yaml:"data-dir" env:"DATA_DIR" default:"./data" description:"directory holding the lists"`
	StoreBackend string `mapstructure:"store-backend" yaml:"store-backend" env:"STORE_BACKEND" default:"json" description:"storage backend, values: json, sqlite, memory, dynamodb"`

	DynamoTable    string `mapstructure:"dynamodb-table" yaml:"dynamodb-table" env:"DYNAMODB_TABLE" description:"DynamoDB table for the dynamodb backend"`
	DynamoRegion   string `mapstructure:"dynamodb-region" yaml:"dynamodb-region" env:"AWS_REGION" description:"AWS region override for the dynamodb backend"`
	DynamoEndpoint string `mapstructure:"dynamodb-endpoint" yaml:"dynamodb-endpoint" env:"DYNAMODB_ENDPOINT" description:"DynamoDB endpoint override, e.g. for DynamoDB Local"`

	AllowedOrigins []string `mapstructure:"allowed-origins" yaml:"allowed-origins" env:"ALLOWED_ORIGINS" default:"*" description:"CORS origins, comma separated; * allows any"`
	UserFile       string   `mapstructure:"user-file" yaml:"user-file" env:"USER_FILE" description:"users file for basic authentication; empty disables authentication"`
	SchemaFile     string   `mapstructure:"schema-file" yaml:"schema-file" env:"SCHEMA_FILE" description:"JSON Schema for list documents; empty uses the built-in schema"`

	RateLimit    int `mapstructure:"rate-limit" yaml:"rate-limit" default:"0" description:"requests per second allowed per client address; 0 disables limiting"`
	RateBurst    int `mapstructure:"rate-burst" yaml:"rate-burst" default:"20" description:"burst size for rate limiting"`
	MaxBodyBytes int `mapstructure:"max-body-bytes" yaml:"max-body-bytes" default:"1048576" description:"maximum request body size in bytes"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" yaml:"shutdown-timeout" default:"10s" description:"how long to wait for in-flight requests on shutdown"`

	LogLevel string `mapstructure:"log-level" yaml:"log-level" env:"LOG_LEVEL" default:"info" description:"the log level, values: debug, info, warn, error"`
}

var durationType = reflect.TypeOf(time.Duration(0))

// RegisterFlags adds one flag per Config field to flags, plus --config.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(ConfigFlag, "", "YAML config file")
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		def := field.Tag.Get("default")
		usage := field.Tag.Get("description")

		switch {
		case field.Type == durationType:
			d, _ := time.ParseDuration(def)
			flags.Duration(name, d, usage)
		case field.Type.Kind() == reflect.String:
			flags.String(name, def, usage)
		case field.Type.Kind() == reflect.Int:
			n, _ := strconv.Atoi(def)
			flags.Int(name, n, usage)
		case field.Type.Kind() == reflect.Slice && field.Type.Elem().Kind() == reflect.String:
			var vals []string
			if def != "" {
				vals = strings.Split(def, ",")
			}
			flags.StringSlice(name, vals, usage)
		}
	}
}

// Load resolves the configuration for flags registered by RegisterFlags and
// validates it.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		names := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))}
		if env := field.Tag.Get("env"); env != "" {
			names = append(names, env)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}

	if path, _ := flags.GetString(ConfigFlag); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var err error
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "help" || flag.Name == ConfigFlag || err != nil {
			return
		}
		// Flag defaults only fill keys that no file or variable provides.
		if !flag.Changed && v.IsSet(flag.Name) {
			return
		}
		if flag.Value.Type() == "stringSlice" {
			var ss []string
			if ss, err = flags.GetStringSlice(flag.Name); err == nil {
				v.Set(flag.Name, ss)
			}
			return
		}
		v.Set(flag.Name, flag.Value.String())
	})
	if err != nil {
		return nil, err
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate normalizes c and reports the first invalid setting.
func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case "", "json":
		c.StoreBackend = "json"
	case "sqlite", "memory":
	case "dynamodb":
		if c.DynamoTable == "" {
			return errors.New("config: dynamodb-table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("config: unknown store-backend %q", c.StoreBackend)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DataDir == "" && (c.StoreBackend == "json" || c.StoreBackend == "sqlite") {
		return errors.New("config: data-dir is required")
	}

	var origins []string
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins

	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate-limit must not be negative, got %d", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("config: rate-burst must be at least 1, got %d", c.RateBurst)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: max-body-bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: shutdown-timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid log-level %q", c.LogLevel)
	}
	return l, nil
}

// YAML renders c in the config file format.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

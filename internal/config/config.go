package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"aquaflow/common/config"

	"gopkg.in/yaml.v3"
)

// Config telemetry service configuration
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	Topics struct {
		Generic     string `yaml:"generic"`
		Temperature string `yaml:"temperature"`
		Humidity    string `yaml:"humidity"`
		WaterLevel  string `yaml:"water_level"`
		WaterWeight string `yaml:"water_weight"`
		ValveStatus string `yaml:"valve_status"`
	} `yaml:"topics"`

	// dual-TTL staleness
	Liveness struct {
		SweepInterval time.Duration `yaml:"sweep_interval"`
		ActiveTimeout time.Duration `yaml:"active_timeout"`
		ExpiryTTL     time.Duration `yaml:"expiry_ttl"`
	} `yaml:"liveness"`

	Valve struct {
		ControlTopic string        `yaml:"control_topic"`
		Cooldown     time.Duration `yaml:"cooldown"`
		ThresholdKey string        `yaml:"threshold_key"`
	} `yaml:"valve"`

	Sampler struct {
		MinInterval   time.Duration `yaml:"min_interval"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
		RestoreOnBoot bool          `yaml:"restore_on_boot"`
	} `yaml:"sampler"`

	// live snapshot copy in Redis for other services
	Mirror struct {
		Enabled  bool          `yaml:"enabled"`
		Key      string        `yaml:"key"`
		TTL      time.Duration `yaml:"ttl"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"mirror"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default configuration before file and environment overrides
func Default() *Config {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "aquaflow",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "aquaflow-telemetry",
		QoS:      1,
	}

	cfg.Topics.Generic = "sensors/data"
	cfg.Topics.Temperature = "sensors/temperature"
	cfg.Topics.Humidity = "sensors/humidity"
	cfg.Topics.WaterLevel = "sensors/water_level"
	cfg.Topics.WaterWeight = "sensors/water_weight"
	cfg.Topics.ValveStatus = "valve/status"

	cfg.Liveness.SweepInterval = time.Second
	cfg.Liveness.ActiveTimeout = 8 * time.Second
	cfg.Liveness.ExpiryTTL = 30 * time.Second

	cfg.Valve.ControlTopic = "valve/control"
	cfg.Valve.Cooldown = 5 * time.Second
	cfg.Valve.ThresholdKey = "aquaflow:valve:thresholds"

	cfg.Sampler.MinInterval = time.Second
	cfg.Sampler.WriteTimeout = 30 * time.Second
	cfg.Sampler.RestoreOnBoot = true

	cfg.Mirror.Enabled = true
	cfg.Mirror.Key = "aquaflow:telemetry:snapshot"
	cfg.Mirror.TTL = 30 * time.Second
	cfg.Mirror.Interval = 2 * time.Second

	cfg.HTTP.Addr = ":8080"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// Load builds the configuration: defaults, then the YAML file named by CONFIG_FILE,
// then environment variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Topics.Generic = getEnv("TOPIC_GENERIC", cfg.Topics.Generic)
	cfg.Topics.Temperature = getEnv("TOPIC_TEMPERATURE", cfg.Topics.Temperature)
	cfg.Topics.Humidity = getEnv("TOPIC_HUMIDITY", cfg.Topics.Humidity)
	cfg.Topics.WaterLevel = getEnv("TOPIC_WATER_LEVEL", cfg.Topics.WaterLevel)
	cfg.Topics.WaterWeight = getEnv("TOPIC_WATER_WEIGHT", cfg.Topics.WaterWeight)
	cfg.Topics.ValveStatus = getEnv("TOPIC_VALVE_STATUS", cfg.Topics.ValveStatus)

	var err error
	if cfg.Liveness.SweepInterval, err = getEnvDuration("LIVENESS_SWEEP_INTERVAL", cfg.Liveness.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.Liveness.ActiveTimeout, err = getEnvDuration("LIVENESS_ACTIVE_TIMEOUT", cfg.Liveness.ActiveTimeout); err != nil {
		return nil, err
	}
	if cfg.Liveness.ExpiryTTL, err = getEnvDuration("LIVENESS_EXPIRY_TTL", cfg.Liveness.ExpiryTTL); err != nil {
		return nil, err
	}

	cfg.Valve.ControlTopic = getEnv("VALVE_CONTROL_TOPIC", cfg.Valve.ControlTopic)
	if cfg.Valve.Cooldown, err = getEnvDuration("VALVE_REPUBLISH_COOLDOWN", cfg.Valve.Cooldown); err != nil {
		return nil, err
	}
	cfg.Valve.ThresholdKey = getEnv("VALVE_THRESHOLD_KEY", cfg.Valve.ThresholdKey)

	if cfg.Sampler.MinInterval, err = getEnvDuration("SAMPLER_MIN_INTERVAL", cfg.Sampler.MinInterval); err != nil {
		return nil, err
	}
	if cfg.Sampler.WriteTimeout, err = getEnvDuration("SAMPLER_WRITE_TIMEOUT", cfg.Sampler.WriteTimeout); err != nil {
		return nil, err
	}
	cfg.Sampler.RestoreOnBoot = getEnvBool("SAMPLER_RESTORE_ON_BOOT", cfg.Sampler.RestoreOnBoot)

	cfg.Mirror.Enabled = getEnvBool("MIRROR_ENABLED", cfg.Mirror.Enabled)
	cfg.Mirror.Key = getEnv("MIRROR_KEY", cfg.Mirror.Key)
	if cfg.Mirror.TTL, err = getEnvDuration("MIRROR_TTL", cfg.Mirror.TTL); err != nil {
		return nil, err
	}
	if cfg.Mirror.Interval, err = getEnvDuration("MIRROR_INTERVAL", cfg.Mirror.Interval); err != nil {
		return nil, err
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Liveness.SweepInterval <= 0 {
		return fmt.Errorf("liveness sweep interval must be positive")
	}
	if c.Liveness.ActiveTimeout <= 0 || c.Liveness.ExpiryTTL <= 0 {
		return fmt.Errorf("liveness timeouts must be positive")
	}
	if c.Liveness.ExpiryTTL < c.Liveness.ActiveTimeout {
		return fmt.Errorf("liveness expiry ttl %s is shorter than active timeout %s", c.Liveness.ExpiryTTL, c.Liveness.ActiveTimeout)
	}
	if c.Sampler.MinInterval <= 0 {
		return fmt.Errorf("sampler min interval must be positive")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid MQTT QoS %d", c.MQTT.QoS)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go durations ("1500ms", "8s") or plain milliseconds
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// DefaultPath is the configuration file read when no --config flag is given.
const DefaultPath = "./flightcore_config.txt"

// EnvPrefix prefixes environment overrides, e.g. FLIGHTCORE_FILTER_WEIGHT.
const EnvPrefix = "FLIGHTCORE"

// Config holds all application configuration values.
type Config struct {
	// Bus
	BusDriver          string `yaml:"bus_driver"` // "periph", "embd" or "sim"
	I2CBus             string `yaml:"i2c_bus"`
	BusSpeedKHz        int    `yaml:"bus_speed_khz"`
	BusTimeoutMS       int    `yaml:"bus_timeout_ms"`
	SensorTimeoutLimit int    `yaml:"sensor_timeout_limit"`

	// Estimation
	FilterWeight     float64 `yaml:"filter_weight"`
	LoopIntervalMS   int     `yaml:"loop_interval_ms"`
	CalibrateOnStart bool    `yaml:"calibrate_on_start"`

	// Logging
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"` // "text" or "json"
	LogSerialPort string `yaml:"log_serial_port"`
	LogSerialBaud int    `yaml:"log_serial_baud"`

	// MQTT
	MQTTBroker    string `yaml:"mqtt_broker"`
	MQTTClientID  string `yaml:"mqtt_client_id"`
	TopicAttitude string `yaml:"topic_attitude"`
	TopicIMU      string `yaml:"topic_imu"`
	PublishEvery  int    `yaml:"publish_every"`

	// Web / metrics
	MetricsAddr   string `yaml:"metrics_addr"`
	WebServerPort int    `yaml:"web_server_port"`

	// Display
	DisplayI2CAddr        uint16 `yaml:"display_i2c_addr"`
	DisplayUpdateInterval int    `yaml:"display_update_interval"` // milliseconds
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

var defaults = map[string]any{
	"BUS_DRIVER":              "periph",
	"I2C_BUS":                 "1",
	"BUS_SPEED_KHZ":           400,
	"BUS_TIMEOUT_MS":          50,
	"SENSOR_TIMEOUT_LIMIT":    10,
	"FILTER_WEIGHT":           0.98,
	"LOOP_INTERVAL_MS":        4,
	"CALIBRATE_ON_START":      true,
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "text",
	"LOG_SERIAL_PORT":         "",
	"LOG_SERIAL_BAUD":         115200,
	"MQTT_BROKER":             "tcp://localhost:1883",
	"MQTT_CLIENT_ID":          "flightcore",
	"TOPIC_ATTITUDE":          "flightcore/attitude",
	"TOPIC_IMU":               "flightcore/imu",
	"PUBLISH_EVERY":           25,
	"METRICS_ADDR":            ":9100",
	"WEB_SERVER_PORT":         8080,
	"DISPLAY_I2C_ADDR":        "0x3C",
	"DISPLAY_UPDATE_INTERVAL": 200,
}

// NewViper returns a viper instance with defaults and environment overrides
// set up. Callers may bind flags on it before passing it to FromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads the KEY=VALUE configuration file at configPath and returns a
// validated Config. Unknown keys are rejected.
func Load(configPath string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, configPath); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// ReadFile loads configPath into v.
func ReadFile(v *viper.Viper, configPath string) error {
	v.SetConfigFile(configPath)
	v.SetConfigType("dotenv")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	for _, key := range v.AllKeys() {
		if _, ok := defaults[strings.ToUpper(key)]; !ok {
			return fmt.Errorf("unknown config key: %q", strings.ToUpper(key))
		}
	}
	return nil
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	addr, err := strconv.ParseUint(v.GetString("DISPLAY_I2C_ADDR"), 0, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", v.GetString("DISPLAY_I2C_ADDR"), err)
	}

	cfg := &Config{
		BusDriver:             strings.ToLower(v.GetString("BUS_DRIVER")),
		I2CBus:                v.GetString("I2C_BUS"),
		BusSpeedKHz:           v.GetInt("BUS_SPEED_KHZ"),
		BusTimeoutMS:          v.GetInt("BUS_TIMEOUT_MS"),
		SensorTimeoutLimit:    v.GetInt("SENSOR_TIMEOUT_LIMIT"),
		FilterWeight:          v.GetFloat64("FILTER_WEIGHT"),
		LoopIntervalMS:        v.GetInt("LOOP_INTERVAL_MS"),
		CalibrateOnStart:      v.GetBool("CALIBRATE_ON_START"),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:             strings.ToLower(v.GetString("LOG_FORMAT")),
		LogSerialPort:         v.GetString("LOG_SERIAL_PORT"),
		LogSerialBaud:         v.GetInt("LOG_SERIAL_BAUD"),
		MQTTBroker:            v.GetString("MQTT_BROKER"),
		MQTTClientID:          v.GetString("MQTT_CLIENT_ID"),
		TopicAttitude:         v.GetString("TOPIC_ATTITUDE"),
		TopicIMU:              v.GetString("TOPIC_IMU"),
		PublishEvery:          v.GetInt("PUBLISH_EVERY"),
		MetricsAddr:           v.GetString("METRICS_ADDR"),
		WebServerPort:         v.GetInt("WEB_SERVER_PORT"),
		DisplayI2CAddr:        uint16(addr),
		DisplayUpdateInterval: v.GetInt("DISPLAY_UPDATE_INTERVAL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks ranges and required fields.
func (c *Config) validate() error {
	switch c.BusDriver {
	case "periph", "embd", "sim":
	default:
		return fmt.Errorf("BUS_DRIVER must be periph, embd or sim, got %q", c.BusDriver)
	}
	if c.BusDriver == "embd" {
		if n, err := strconv.Atoi(c.I2CBus); err != nil || n < 0 || n > 255 {
			return fmt.Errorf("I2C_BUS must be a bus number 0-255 with the embd driver, got %q", c.I2CBus)
		}
	}
	if c.I2CBus == "" && c.BusDriver != "sim" {
		return fmt.Errorf("I2C_BUS is required")
	}
	if c.BusSpeedKHz < 0 {
		return fmt.Errorf("BUS_SPEED_KHZ must be >= 0, got %d", c.BusSpeedKHz)
	}
	if c.BusTimeoutMS < 0 {
		return fmt.Errorf("BUS_TIMEOUT_MS must be >= 0, got %d", c.BusTimeoutMS)
	}
	if c.SensorTimeoutLimit < 1 {
		return fmt.Errorf("SENSOR_TIMEOUT_LIMIT must be >= 1, got %d", c.SensorTimeoutLimit)
	}
	if c.FilterWeight < 0 || c.FilterWeight > 1 {
		return fmt.Errorf("FILTER_WEIGHT must be within [0, 1], got %g", c.FilterWeight)
	}
	if c.LoopIntervalMS < 1 {
		return fmt.Errorf("LOOP_INTERVAL_MS must be >= 1, got %d", c.LoopIntervalMS)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be trace, debug, info, warn or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.LogSerialPort != "" && c.LogSerialBaud <= 0 {
		return fmt.Errorf("LOG_SERIAL_BAUD is required with LOG_SERIAL_PORT")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicAttitude == "" {
		return fmt.Errorf("TOPIC_ATTITUDE is required")
	}
	if c.PublishEvery < 1 {
		return fmt.Errorf("PUBLISH_EVERY must be >= 1, got %d", c.PublishEvery)
	}
	if c.DisplayI2CAddr > 0x7F {
		return fmt.Errorf("DISPLAY_I2C_ADDR must be a 7-bit address, got 0x%X", c.DisplayI2CAddr)
	}
	return nil
}

// InitGlobal loads the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// SetGlobal installs an already built configuration, e.g. one that had
// command line flags merged in.
func SetGlobal(cfg *Config) {
	configOnce.Do(func() {})
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = cfg
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

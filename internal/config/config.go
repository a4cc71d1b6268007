package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile = "config.yaml"
	configFileEnv     = "THERMOPIPE_CONFIG_FILE"
)

var envPrefixes = []string{"THERMOPIPE_"}

// App contains the full application configuration.
type App struct {
	DeviceID string `yaml:"device_id"`

	NetworkInterface string `yaml:"network_interface"`
	WiFiSSID         string `yaml:"wifi_ssid"`
	WiFiPassword     string `yaml:"wifi_password"`
	ConnectAttempts  int    `yaml:"connect_attempts"`

	MQTTBrokerAddress     string `yaml:"mqtt_broker_address"`
	MQTTPort              int    `yaml:"mqtt_port"`
	MQTTUsername          string `yaml:"mqtt_username"`
	MQTTPassword          string `yaml:"mqtt_password"`
	MQTTTLSServerName     string `yaml:"mqtt_tls_server_name"`
	MQTTCAFile            string `yaml:"mqtt_ca_file"`
	MQTTInsecureTLS       bool   `yaml:"mqtt_insecure_tls"`
	MQTTDisableTLS        bool   `yaml:"mqtt_disable_tls"`
	MQTTKeepAliveSeconds  int    `yaml:"mqtt_keepalive_seconds"`
	MQTTTopicTelemetry    string `yaml:"mqtt_topic_telemetry"`
	MQTTTopicErrors       string `yaml:"mqtt_topic_errors"`
	StatusEcho            bool   `yaml:"status_echo"`
	SampleIntervalSeconds int    `yaml:"sample_interval_seconds"`
	ErrorCooldownSeconds  int    `yaml:"error_cooldown_seconds"`

	SensorKind           string  `yaml:"sensor_kind"`
	SensorIIODevice      string  `yaml:"sensor_iio_device"`
	SensorAttempts       int     `yaml:"sensor_attempts"`
	SensorBackoffSeconds int     `yaml:"sensor_backoff_seconds"`
	SimulatedStep        float64 `yaml:"simulated_step"`
	SimulatedFailureRate float64 `yaml:"simulated_failure_rate"`

	JournalFile           string `yaml:"journal_file"`
	JournalRetentionHours int    `yaml:"journal_retention_hours"`

	LogLevel             string `yaml:"log_level"`
	LogFormat            string `yaml:"log_format"`
	ObservabilityAddress string `yaml:"observability_address"`

	// ConfigPath is the file the configuration was loaded from, if any.
	ConfigPath string `yaml:"-"`
}

// New reads the configuration from file (if provided) and environment overrides.
func New(path string) (*App, error) {
	cfg := defaultConfig()

	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *App {
	return &App{
		DeviceID:              "Id01",
		WiFiSSID:              "Wokwi-GUEST",
		ConnectAttempts:       15,
		MQTTBrokerAddress:     "127.0.0.1",
		MQTTPort:              8883,
		MQTTKeepAliveSeconds:  60,
		MQTTTopicTelemetry:    "iot/telemetry",
		MQTTTopicErrors:       "iot/errors",
		StatusEcho:            false,
		SampleIntervalSeconds: 5,
		ErrorCooldownSeconds:  10,
		SensorKind:            "simulated",
		SensorIIODevice:       "/sys/bus/iio/devices/iio:device0",
		SensorAttempts:        3,
		SensorBackoffSeconds:  1,
		SimulatedStep:         0.2,
		JournalFile:           "",
		JournalRetentionHours: 24 * 7,
		LogLevel:              "INFO",
		LogFormat:             "text",
		ObservabilityAddress:  ":2112",
	}
}

// applyFile loads YAML from path. An empty path falls back to the
// THERMOPIPE_CONFIG_FILE variable and then config.yaml in the working
// directory; a missing fallback file is not an error.
func (c *App) applyFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = os.Getenv(configFileEnv)
		if path == "" {
			path = defaultConfigFile
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.ConfigPath = path
	return nil
}

// applyEnv overrides fields from PREFIX_<YAML_KEY> variables. Earlier
// prefixes win.
func (c *App) applyEnv() error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if key == "" || key == "-" {
			continue
		}

		raw, ok := lookupEnv(strings.ToUpper(key))
		if !ok {
			continue
		}

		target := v.Field(i)
		switch target.Kind() {
		case reflect.String:
			target.SetString(raw)
		case reflect.Int:
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("config: %s: invalid integer %q", key, raw)
			}
			target.SetInt(int64(n))
		case reflect.Float64:
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("config: %s: invalid number %q", key, raw)
			}
			target.SetFloat(f)
		case reflect.Bool:
			b, err := parseBool(raw)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			target.SetBool(b)
		}
	}
	return nil
}

func (c *App) validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("config: device_id must be set")
	}
	switch strings.ToLower(c.SensorKind) {
	case SensorSimulated, SensorIIO:
	default:
		return fmt.Errorf("config: unknown sensor_kind %q", c.SensorKind)
	}
	if c.SimulatedFailureRate < 0 || c.SimulatedFailureRate > 1 {
		return fmt.Errorf("config: simulated_failure_rate must be within [0,1], got %v", c.SimulatedFailureRate)
	}
	return nil
}

// Supported sensor kinds.
const (
	SensorSimulated = "simulated"
	SensorIIO       = "iio"
)

func lookupEnv(suffix string) (string, bool) {
	for _, prefix := range envPrefixes {
		if val, ok := os.LookupEnv(prefix + suffix); ok {
			return val, true
		}
	}
	return "", false
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

// Package config loads the process-level settings for cmd/gateway: the
// broker address, the two registry root directories, and logging/metrics
// knobs. Per-device and per-tag configuration lives under the registry
// roots themselves (INI) and is not part of this file.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration, loaded from YAML and then
// overridden by command-line flags.
type Config struct {
	Gateway struct {
		TCPRoot        string        `yaml:"tcp_root"`
		RTUOverTCPRoot string        `yaml:"rtu_over_tcp_root"`
		LogLevel       string        `yaml:"log_level"`
		MetricsPort    int           `yaml:"metrics_port"`
		ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	} `yaml:"gateway"`

	MQTT struct {
		Protocol string `yaml:"protocol"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		QoS      int    `yaml:"qos"`
		Prefix   string `yaml:"prefix"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`
}

// Load reads filename if present, falling back to defaults entirely when
// it does not exist: a missing config file is not an error, matching the
// gateway's own tolerant startup behavior.
func Load(filename string) (*Config, error) {
	cfg := &Config{}

	cfg.Gateway.LogLevel = "info"
	cfg.Gateway.MetricsPort = 9464
	cfg.Gateway.ShutdownGrace = 5 * time.Second

	cfg.MQTT.Protocol = "tcp"
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.QoS = 1
	cfg.MQTT.Prefix = "gateway"
	cfg.MQTT.ClientID = "modbus-mqtt-gateway"

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

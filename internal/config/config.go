// Package config loads the YAML configuration file and overlays CLI flags
// on top of it for every daemon/tool entry point.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/baconwaifu/vwdiag/internal/transport"
)

// Config is the full on-disk configuration for the diagnostic daemon and
// its companion tools.
type Config struct {
	CANBus struct {
		// Type selects the canbus.Port implementation: "socketcan",
		// "rawsocket", or "memory" (for dry runs and tests).
		Type      string `yaml:"type"`
		Interface string `yaml:"interface"`
	} `yaml:"canbus"`

	VWTP struct {
		ModuleID   byte `yaml:"moduleId"`
		AutoReopen bool `yaml:"autoReopen"`
	} `yaml:"vwtp"`

	Security struct {
		// Algorithm selects the seed/key scheme: "xor" or "readonly".
		Algorithm string `yaml:"algorithm"`
		ECUIndex  int    `yaml:"ecuIndex"`
	} `yaml:"security"`

	Transport struct {
		Type     string `yaml:"type"`
		Address  string `yaml:"address"`
		BaudRate int    `yaml:"baudRate"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"transport"`

	Testing struct {
		UseMockData bool   `yaml:"useMockData"`
		UseTestTCP  bool   `yaml:"useTestTCP"`
		TCPAddress  string `yaml:"tcpAddress"`
	} `yaml:"testing"`

	Capture struct {
		Enabled   bool   `yaml:"enabled"`
		Directory string `yaml:"directory"`
	} `yaml:"capture"`

	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Datastore struct {
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		InfluxDB struct {
			URL    string `yaml:"url"`
			Org    string `yaml:"org"`
			Bucket string `yaml:"bucket"`
			Token  string `yaml:"token"`
		} `yaml:"influxdb"`
	} `yaml:"datastore"`

	Vehicle struct {
		DefaultThresholds struct {
			RPMRedline     float64 `yaml:"rpm_redline"`
			CoolantTempMax float64 `yaml:"coolant_temp_max"`
			EngineLoadMax  float64 `yaml:"engine_load_max"`
		} `yaml:"default_thresholds"`
	} `yaml:"vehicle"`
}

// LoadConfig reads the YAML config file at filename.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", filename, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", filename, err)
	}
	return &cfg, nil
}

// Flags holds the CLI overrides registered by BindFlags.
type Flags struct {
	ConfigPath string
	CANInterface string
	Verbose    bool
}

// BindFlags registers the common daemon/tool flags on fs and returns the
// struct they'll populate once fs.Parse has run.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVarP(&f.ConfigPath, "config", "c", "config.yaml", "path to the configuration file")
	fs.StringVar(&f.CANInterface, "can-interface", "", "override the configured CAN interface name")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "enable debug logging")
	return f
}

// ApplyFlags overlays non-empty CLI overrides onto cfg.
func (c *Config) ApplyFlags(f *Flags) {
	if f.CANInterface != "" {
		c.CANBus.Interface = f.CANInterface
	}
}

// GetTransportConfig returns the ELM327 fallback transport configuration
// based on test flags and config.
func (c *Config) GetTransportConfig() *transport.Config {
	if c.Testing.UseTestTCP {
		return &transport.Config{Type: "tcp", Address: c.Testing.TCPAddress}
	}
	if c.Testing.UseMockData {
		return &transport.Config{Type: "mock"}
	}
	return &transport.Config{
		Type:     c.Transport.Type,
		Address:  c.Transport.Address,
		BaudRate: c.Transport.BaudRate,
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Device      DeviceConfig      `yaml:"device"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Display     DisplayConfig     `yaml:"display"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Mock        MockConfig        `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DeviceConfig contains the QPOD timing constants sent once after connect.
type DeviceConfig struct {
	GatePeriod        int64 `yaml:"gate_period"`        // ns
	MeasurementPeriod int64 `yaml:"measurement_period"` // ns
}

// CalibrationConfig contains the user settable film parameters.
type CalibrationConfig struct {
	Density float64 `yaml:"density"` // g/cm³
	ZRatio  float64 `yaml:"z_ratio"`
}

// DisplayConfig contains display window parameters.
type DisplayConfig struct {
	TimeToShow float64 `yaml:"time_to_show"` // seconds, <= 0 shows everything
}

// AcquisitionConfig contains acquisition loop parameters.
type AcquisitionConfig struct {
	Delay              time.Duration `yaml:"delay"`
	HardwareSourceID   string        `yaml:"hardware_source_id"`
	HardwareSourceName string        `yaml:"hardware_source_name"`
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	BaseCount      float64 `yaml:"base_count"`       // Raw count at t=0
	DriftPerSecond float64 `yaml:"drift_per_second"` // Raw count change per second
	Noise          float64 `yaml:"noise"`            // Peak noise amplitude in counts
}

// Duration returns the display window as a time.Duration.
func (d DisplayConfig) Duration() time.Duration {
	return time.Duration(d.TimeToShow * float64(time.Second))
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			ReadTimeout: 5 * time.Second,
		},
		Device: DeviceConfig{
			GatePeriod:        2500000,
			MeasurementPeriod: 25000000,
		},
		Calibration: CalibrationConfig{
			Density: 1.0,
			ZRatio:  1.0,
		},
		Display: DisplayConfig{
			TimeToShow: 300,
		},
		Acquisition: AcquisitionConfig{
			Delay:              time.Second,
			HardwareSourceID:   "quartzcam",
			HardwareSourceName: "Quartz Monitor",
		},
		Mock: MockConfig{
			BaseCount:      500000,
			DriftPerSecond: -2,
			Noise:          0.5,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
// Display.TimeToShow is left alone: zero is a meaningful value there.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.ReadTimeout <= 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.Device.GatePeriod <= 0 {
		c.Device.GatePeriod = def.Device.GatePeriod
	}
	if c.Device.MeasurementPeriod <= 0 {
		c.Device.MeasurementPeriod = def.Device.MeasurementPeriod
	}

	if c.Calibration.Density <= 0 {
		c.Calibration.Density = def.Calibration.Density
	}
	if c.Calibration.ZRatio <= 0 {
		c.Calibration.ZRatio = def.Calibration.ZRatio
	}

	if c.Acquisition.Delay < 0 {
		c.Acquisition.Delay = def.Acquisition.Delay
	}
	if c.Acquisition.HardwareSourceID == "" {
		c.Acquisition.HardwareSourceID = def.Acquisition.HardwareSourceID
	}
	if c.Acquisition.HardwareSourceName == "" {
		c.Acquisition.HardwareSourceName = def.Acquisition.HardwareSourceName
	}

	if c.Mock.BaseCount <= 0 {
		c.Mock.BaseCount = def.Mock.BaseCount
	}
}

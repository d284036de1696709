// Package config loads the bldc-host configuration: serial link settings and
// per-actuator calibration applied to the firmware after connecting.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

var (
	ErrDuplicateActuator = errors.New("duplicate actuator")
	ErrInvalidMaxDuty    = errors.New("max_duty must be in (0, 1]")
	ErrInvalidOffset     = errors.New("offset must be finite")
)

// Defaults
const (
	DefaultBaud            = 250000
	DefaultReadTimeout     = 100 * time.Millisecond
	DefaultResponseTimeout = time.Second
	DefaultMaxDuty         = 1.0
)

// Config is the host configuration file
type Config struct {
	Port            string        `yaml:"port"`
	Baud            int           `yaml:"baud"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	Actuators       []Actuator    `yaml:"actuators"`
}

// Actuator is the calibration of one firmware actuator. Angles are in radians.
type Actuator struct {
	Name        string  `yaml:"name"`
	OID         uint8   `yaml:"oid"`
	MotorOffset float64 `yaml:"motor_offset"`
	JointOffset float64 `yaml:"joint_offset"`
	SectorZero  float64 `yaml:"sector_zero"`
	MaxDuty     float64 `yaml:"max_duty"`
	// Measure starts sensor polling once the calibration is applied
	Measure bool `yaml:"measure"`
}

// Env holds the settings taken from the environment
type Env struct {
	Port       string `env:"BLDC_PORT"`
	Baud       int    `env:"BLDC_BAUD"`
	ConfigPath string `env:"BLDC_CONFIG" envDefault:"bldc.yaml"`
	Debug      bool   `env:"BLDC_DEBUG"`
}

// LoadEnv reads Env from the process environment
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("environment: %w", err)
	}
	return e, nil
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig parses a YAML configuration and fills in defaults
func LoadConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}

	for i := range cfg.Actuators {
		a := &cfg.Actuators[i]
		if a.Name == "" {
			a.Name = fmt.Sprintf("actuator%d", a.OID)
		}
		if a.MaxDuty == 0 {
			a.MaxDuty = DefaultMaxDuty
		}
	}
}

// Validate checks names and OIDs are unique and every value is in range
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Actuators))
	oids := make(map[uint8]bool, len(c.Actuators))

	for _, a := range c.Actuators {
		if names[a.Name] {
			return fmt.Errorf("name %q: %w", a.Name, ErrDuplicateActuator)
		}
		if oids[a.OID] {
			return fmt.Errorf("oid %d: %w", a.OID, ErrDuplicateActuator)
		}
		names[a.Name] = true
		oids[a.OID] = true

		if !(a.MaxDuty > 0 && a.MaxDuty <= 1) {
			return fmt.Errorf("%s: %v: %w", a.Name, a.MaxDuty, ErrInvalidMaxDuty)
		}
		for _, v := range []float64{a.MotorOffset, a.JointOffset, a.SectorZero} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s: %w", a.Name, ErrInvalidOffset)
			}
		}
	}
	return nil
}

// ApplyEnv overrides the link settings with any set in e
func (c *Config) ApplyEnv(e Env) {
	if e.Port != "" {
		c.Port = e.Port
	}
	if e.Baud != 0 {
		c.Baud = e.Baud
	}
}

// Lookup finds an actuator by name
func (c *Config) Lookup(name string) (Actuator, bool) {
	for _, a := range c.Actuators {
		if a.Name == name {
			return a, true
		}
	}
	return Actuator{}, false
}

// DefaultConfig returns the configuration for a single uncalibrated actuator on oid 0
func DefaultConfig() *Config {
	cfg := &Config{
		Actuators: []Actuator{{Name: "joint", OID: 0}},
	}
	applyDefaults(cfg)
	return cfg
}

// Package config loads and validates the azula configuration file and turns
// it into the inputs of a scan.
package config

import (
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/logging"
	"github.com/anstrom/azula/internal/ports"
	"github.com/anstrom/azula/internal/scanning"
)

const (
	// DefaultFileName is the name of the configuration file in the home directory.
	DefaultFileName = ".azula.yaml"

	// EnvPrefix prefixes environment overrides, e.g. AZULA_BATCH_SIZE.
	EnvPrefix = "AZULA"

	defaultMetricsAddr = "127.0.0.1:9464"
)

// Config represents the complete azula configuration.
type Config struct {
	// Addresses are IPs, CIDR blocks, hostnames or host list files.
	Addresses []string `yaml:"addresses" json:"addresses" mapstructure:"addresses"`

	// Ports is an explicit port list. It excludes Range.
	Ports []uint16 `yaml:"ports" json:"ports" mapstructure:"ports" validate:"omitempty,dive,min=1"`

	// Range is a port range in "start-end" form. It excludes Ports.
	Range string `yaml:"range" json:"range" mapstructure:"range"`

	// Top scans TopPorts instead of Ports or Range.
	Top bool `yaml:"top" json:"top" mapstructure:"top"`

	// TopPorts overrides the built-in list of common ports.
	TopPorts []uint16 `yaml:"top_ports" json:"top_ports" mapstructure:"top_ports" validate:"omitempty,dive,min=1"`

	Greppable  bool `yaml:"greppable" json:"greppable" mapstructure:"greppable"`
	Accessible bool `yaml:"accessible" json:"accessible" mapstructure:"accessible"`

	// BatchSize is the number of probes in flight.
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size" validate:"min=1,max=65535"`

	// Timeout is the per-probe timeout in milliseconds.
	Timeout int `yaml:"timeout" json:"timeout" mapstructure:"timeout" validate:"min=1"`

	// Tries is the number of attempts per target.
	Tries int `yaml:"tries" json:"tries" mapstructure:"tries" validate:"min=1,max=255"`

	// Ulimit raises the open file limit when non-zero.
	Ulimit uint64 `yaml:"ulimit" json:"ulimit" mapstructure:"ulimit"`

	// Resolver lists DNS servers, or names a file listing them.
	Resolver string `yaml:"resolver" json:"resolver" mapstructure:"resolver"`

	ScanOrder string `yaml:"scan_order" json:"scan_order" mapstructure:"scan_order" validate:"omitempty,oneofci=serial random"`
	Scripts   string `yaml:"scripts" json:"scripts" mapstructure:"scripts" validate:"omitempty,oneofci=none default custom"`

	// Command holds extra arguments appended to script invocations.
	Command []string `yaml:"command" json:"command" mapstructure:"command"`

	ExcludePorts []uint16 `yaml:"exclude_ports" json:"exclude_ports" mapstructure:"exclude_ports"`

	UDP         bool         `yaml:"udp" json:"udp" mapstructure:"udp"`
	UDPPayloads []UDPPayload `yaml:"udp_payloads" json:"udp_payloads" mapstructure:"udp_payloads" validate:"dive"`

	Logging logging.Config `yaml:"logging" json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig  `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
}

// UDPPayload assigns a hex encoded payload to a set of UDP ports.
type UDPPayload struct {
	Ports      []uint16 `yaml:"ports" json:"ports" mapstructure:"ports" validate:"required,min=1,dive,min=1"`
	PayloadHex string   `yaml:"payload_hex" json:"payload_hex" mapstructure:"payload_hex" validate:"omitempty,hexadecimal"`
}

// MetricsConfig controls the Prometheus endpoint served during a scan.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" mapstructure:"listen_addr" validate:"omitempty,hostname_port"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BatchSize: scanning.DefaultBatchSize,
		Timeout:   int(scanning.DefaultTimeout / time.Millisecond),
		Tries:     scanning.DefaultTries,
		ScanOrder: ports.Serial.String(),
		Scripts:   "default",
		Logging:   logging.DefaultConfig(),
		Metrics: MetricsConfig{
			ListenAddr: defaultMetricsAddr,
		},
	}
}

// DefaultPath returns ~/.azula.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.WrapConfigError(errors.CodeConfiguration, "could not infer config path", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// SetDefaults registers the defaults with v so that file, environment and
// flag values layer on top of them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("tries", d.Tries)
	v.SetDefault("scan_order", d.ScanOrder)
	v.SetDefault("scripts", d.Scripts)
	v.SetDefault("logging.level", string(d.Logging.Level))
	v.SetDefault("logging.format", string(d.Logging.Format))
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.rotation.enabled", d.Logging.Rotation.Enabled)
	v.SetDefault("logging.rotation.max_size_mb", d.Logging.Rotation.MaxSizeMB)
	v.SetDefault("logging.rotation.max_backups", d.Logging.Rotation.MaxBackups)
	v.SetDefault("logging.rotation.max_age_days", d.Logging.Rotation.MaxAgeDays)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
}

// NewViper returns a viper instance with the defaults registered and
// AZULA_* environment overrides enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to decode configuration", err)
	}
	cfg.ScanOrder = strings.ToLower(cfg.ScanOrder)
	cfg.Scripts = strings.ToLower(cfg.Scripts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration. Errors are CONFIGURATION or VALIDATION
// ConfigErrors naming the offending field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fe.Field(), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return errors.ErrConfigMissing("metrics.listen_addr")
	}

	if c.Range != "" {
		if len(c.Ports) > 0 {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"ports and range are mutually exclusive", "range", c.Range)
		}
		if _, err := ports.ParseRange(c.Range); err != nil {
			return err
		}
	}

	for _, p := range c.UDPPayloads {
		if len(p.PayloadHex)%2 != 0 {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"payload must have an even number of hex digits", "payload_hex", p.PayloadHex)
		}
	}

	return nil
}

// TimeoutDuration returns the per-probe timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// Order returns the configured traversal order.
func (c *Config) Order() (ports.ScanOrder, error) {
	return ports.ParseOrder(c.ScanOrder)
}

// PortSelection returns the ports to scan as either a range or a list. Top
// wins over Ports, which wins over Range. Without any of them the full
// port range is scanned.
func (c *Config) PortSelection() (*ports.PortRange, []uint16, error) {
	switch {
	case c.Top:
		if len(c.TopPorts) > 0 {
			return nil, slices.Clone(c.TopPorts), nil
		}
		return nil, ports.TopPorts(), nil
	case len(c.Ports) > 0:
		return nil, slices.Clone(c.Ports), nil
	case c.Range != "":
		r, err := ports.ParseRange(c.Range)
		if err != nil {
			return nil, nil, err
		}
		return &r, nil, nil
	}
	r := ports.FullRange()
	return &r, nil, nil
}

// Strategy builds the port strategy of the scan.
func (c *Config) Strategy() (*ports.Strategy, error) {
	order, err := c.Order()
	if err != nil {
		return nil, err
	}
	r, list, err := c.PortSelection()
	if err != nil {
		return nil, err
	}
	return ports.Pick(r, list, order), nil
}

// Payloads returns the built-in UDP payloads overridden by UDPPayloads.
func (c *Config) Payloads() (*scanning.PayloadTable, error) {
	custom := scanning.NewPayloadTable()
	for _, p := range c.UDPPayloads {
		payload, err := hex.DecodeString(p.PayloadHex)
		if err != nil {
			return nil, errors.NewConfigFieldError(errors.CodeValidation,
				"invalid hex payload", "payload_hex", p.PayloadHex)
		}
		custom.Set(p.Ports, payload)
	}
	table := scanning.DefaultPayloads()
	table.Merge(custom)
	return table, nil
}

// ScanConfig converts the configuration into the settings of a scanner.
func (c *Config) ScanConfig() (scanning.Config, error) {
	cfg := scanning.Config{
		BatchSize:    c.BatchSize,
		Timeout:      c.TimeoutDuration(),
		Tries:        c.Tries,
		Greppable:    c.Greppable,
		Accessible:   c.Accessible,
		ExcludePorts: slices.Clone(c.ExcludePorts),
		UDP:          c.UDP,
	}
	if c.UDP {
		payloads, err := c.Payloads()
		if err != nil {
			return scanning.Config{}, err
		}
		cfg.Payloads = payloads
	}
	return cfg, nil
}

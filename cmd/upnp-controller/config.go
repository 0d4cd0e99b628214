package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/upnpkit/upnpkit-go/pkg/controlpoint"
)

// Config holds the controller configuration. Values from the configuration
// file are overridden by flags given on the command line.
type Config struct {
	ConfigFile  string `yaml:"-"`
	LogLevel    string `yaml:"log_level"`
	Interactive bool   `yaml:"interactive"`

	ListenV4 string `yaml:"listen_v4"`
	ListenV6 string `yaml:"listen_v6"`
	IPv6     bool   `yaml:"ipv6"`

	ActionTimeout        time.Duration `yaml:"action_timeout"`
	MaxPendingCalls      int           `yaml:"max_pending_calls"`
	SubscriptionDuration time.Duration `yaml:"subscription_duration"`

	MetricsAddr string `yaml:"metrics_addr"`
	ProtocolLog string `yaml:"protocol_log"`
	LogProtocol bool   `yaml:"log_protocol"`

	// Devices are description URLs connected at startup.
	Devices stringList `yaml:"devices"`
	// Subscribe subscribes every evented service of a connected device.
	Subscribe bool `yaml:"subscribe"`
}

func defaultConfig() Config {
	cp := controlpoint.DefaultConfig()
	return Config{
		LogLevel:             "info",
		ListenV4:             cp.ListenAddressV4,
		ListenV6:             cp.ListenAddressV6,
		IPv6:                 cp.EnableIPv6,
		ActionTimeout:        cp.ActionTimeout,
		MaxPendingCalls:      cp.MaxPendingCalls,
		SubscriptionDuration: cp.SubscriptionDuration,
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("upnp-controller", flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Configuration file path (YAML)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Interactive, "interactive", cfg.Interactive, "Enable interactive command mode")
	fs.StringVar(&cfg.ListenV4, "listen", cfg.ListenV4, "IPv4 address of the event callback listener")
	fs.StringVar(&cfg.ListenV6, "listen6", cfg.ListenV6, "IPv6 address of the event callback listener")
	fs.BoolVar(&cfg.IPv6, "ipv6", cfg.IPv6, "Use IPv6 endpoints")
	fs.DurationVar(&cfg.ActionTimeout, "action-timeout", cfg.ActionTimeout, "Action call timeout")
	fs.IntVar(&cfg.MaxPendingCalls, "max-pending", cfg.MaxPendingCalls, "Maximum concurrent action calls per device")
	fs.DurationVar(&cfg.SubscriptionDuration, "subscription-duration", cfg.SubscriptionDuration, "Requested event subscription duration")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Address to serve Prometheus metrics on (disabled if empty)")
	fs.StringVar(&cfg.ProtocolLog, "protocol-log", cfg.ProtocolLog, "File path for protocol event logging (CBOR format)")
	fs.BoolVar(&cfg.LogProtocol, "log-protocol", cfg.LogProtocol, "Also write protocol events to the console log")
	fs.Var(&cfg.Devices, "device", "Description URL of a device to connect at startup (repeatable)")
	fs.BoolVar(&cfg.Subscribe, "subscribe", cfg.Subscribe, "Subscribe all evented services of connected devices")
	return fs
}

// parseConfig parses the command line and the configuration file it names.
func parseConfig(args []string) (Config, error) {
	cfg := defaultConfig()
	if err := newFlagSet(&cfg).Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ConfigFile == "" {
		return cfg, validateConfig(cfg)
	}

	fileCfg := defaultConfig()
	if err := loadConfigFile(cfg.ConfigFile, &fileCfg); err != nil {
		return cfg, err
	}
	fileCfg.ConfigFile = cfg.ConfigFile

	// Apply the command line again on top of the file.
	fs := newFlagSet(&fileCfg)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return fileCfg, validateConfig(fileCfg)
}

func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.ActionTimeout <= 0 {
		return fmt.Errorf("action timeout must be positive, got %s", cfg.ActionTimeout)
	}
	if cfg.MaxPendingCalls <= 0 {
		return fmt.Errorf("max pending calls must be positive, got %d", cfg.MaxPendingCalls)
	}
	return nil
}

// controlPointConfig derives the control point configuration.
func (c Config) controlPointConfig() controlpoint.Config {
	cp := controlpoint.DefaultConfig()
	cp.ListenAddressV4 = c.ListenV4
	cp.ListenAddressV6 = c.ListenV6
	cp.EnableIPv6 = c.IPv6
	if !c.IPv6 {
		cp.ListenAddressV6 = ""
	}
	cp.ActionTimeout = c.ActionTimeout
	cp.MaxPendingCalls = c.MaxPendingCalls
	if c.SubscriptionDuration > 0 {
		cp.SubscriptionDuration = c.SubscriptionDuration
	}
	return cp
}

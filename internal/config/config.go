package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/bcld/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigPath = "/etc/bcld.toml"
	DefaultEnvPrefix  = "BCLD"
	DefaultLogLevel   = "info"
)

type Config struct {
	LogLevel  string                `mapstructure:"log_level"`
	Debug     bool                  `mapstructure:"debug"`
	Verbose   bool                  `mapstructure:"verbose"`
	Workers   int                   `mapstructure:"workers"`
	Bus       BusConfig             `mapstructure:"bus"`
	Chips     map[string]ChipConfig `mapstructure:"chips"`
	Discovery DiscoveryConfig       `mapstructure:"discovery"`
	GPIO      GPIOConfig            `mapstructure:"gpio"`
	Battery   BatteryConfig         `mapstructure:"battery"`
	Throttle  ThrottleConfig        `mapstructure:"throttle"`
	History   HistoryConfig         `mapstructure:"history"`
	MQTT      MQTTConfig            `mapstructure:"mqtt"`
	Governor  GovernorConfig        `mapstructure:"governor"`
	Rails     map[string]RailConfig `mapstructure:"rails"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type BusConfig struct {
	Name            string `mapstructure:"name"`
	PEC             bool   `mapstructure:"pec"`
	Attempts        int    `mapstructure:"attempts"`
	RetryIntervalMs int    `mapstructure:"retry_interval_ms"`
}

type ChipConfig struct {
	Address int `mapstructure:"address"`
}

type DiscoveryConfig struct {
	BackoffMs   int `mapstructure:"backoff_ms"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

type GPIOConfig struct {
	Chip string `mapstructure:"chip"`
	// ChargerLine is the charger's shared condition line, -1 for none.
	ChargerLine      int  `mapstructure:"charger_line"`
	ChargerActiveLow bool `mapstructure:"charger_active_low"`
}

type BatteryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Address int  `mapstructure:"address"`
}

type ThrottleConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	DevMem   string   `mapstructure:"devmem"`
	Clusters []uint32 `mapstructure:"clusters"`
}

type HistoryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DBPath         string `mapstructure:"db_path"`
	BackupDir      string `mapstructure:"backup_dir"`
	BatchSize      int    `mapstructure:"batch_size"`
	BatchTimeoutMs int    `mapstructure:"batch_timeout_ms"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

type GovernorConfig struct {
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// RailConfig tunes one rail. Zero values select the built-in defaults.
type RailConfig struct {
	InitialThreshold  int  `mapstructure:"initial_threshold"`
	DebounceWindowMs  int  `mapstructure:"debounce_window_ms"`
	HysteresisMargin  int  `mapstructure:"hysteresis_margin"`
	PollingIntervalMs int  `mapstructure:"polling_interval_ms"`
	Line              *int `mapstructure:"line"`
	ActiveLow         bool `mapstructure:"active_low"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (b BusConfig) RetryInterval() time.Duration     { return ms(b.RetryIntervalMs) }
func (d DiscoveryConfig) Backoff() time.Duration     { return ms(d.BackoffMs) }
func (h HistoryConfig) BatchTimeout() time.Duration  { return ms(h.BatchTimeoutMs) }
func (g GovernorConfig) PollInterval() time.Duration { return ms(g.PollIntervalMs) }
func (r RailConfig) DebounceWindow() time.Duration   { return ms(r.DebounceWindowMs) }
func (r RailConfig) PollingInterval() time.Duration  { return ms(r.PollingIntervalMs) }

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("workers", 2)
	v.SetDefault("bus.name", "")
	v.SetDefault("bus.attempts", 3)
	v.SetDefault("bus.retry_interval_ms", 5)
	v.SetDefault("chips.main.address", 0x3c)
	v.SetDefault("chips.sub.address", 0x2f)
	v.SetDefault("chips.charger.address", 0x69)
	v.SetDefault("discovery.backoff_ms", 1000)
	v.SetDefault("discovery.max_attempts", 10)
	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("gpio.charger_line", -1)
	v.SetDefault("battery.enabled", true)
	v.SetDefault("battery.address", 0x36)
	v.SetDefault("throttle.enabled", false)
	v.SetDefault("throttle.devmem", "/dev/mem")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", "/var/lib/bcld/history.db")
	v.SetDefault("history.batch_size", 16)
	v.SetDefault("history.batch_timeout_ms", 5000)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "bcld")
	v.SetDefault("mqtt.topic", "bcld/rails")
	v.SetDefault("governor.poll_interval_ms", 1000)
}

// Load reads the config file, environment and flags, in increasing order
// of precedence, and validates the result.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	fs := pflag.NewFlagSet("bcld", pflag.ContinueOnError)
	configFlag := fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debug logging")
	fs.Bool("verbose", false, "Enable verbose logging")
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"log_level": "log-level",
		"debug":     "debug",
		"verbose":   "verbose",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(ErrBindFlags, err)
		}
	}

	path := resolvePath(o, *configFlag)
	file := ""
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(ErrReadConfig, err)
		}
		file = path
	} else if !os.IsNotExist(err) {
		return nil, errFactory.Wrap(ErrReadConfig, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrReadConfig, err)
	}
	cfg.File = file

	switch {
	case cfg.Debug:
		cfg.LogLevel = string(LogLevelDebug)
	case cfg.Verbose && cfg.LogLevel != string(LogLevelDebug):
		cfg.LogLevel = string(LogLevelInfo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(o options, flagPath string) string {
	if o.configPath != "" {
		return o.configPath
	}
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(o.envPrefix + "_CONFIG"); env != "" {
		return env
	}
	return DefaultConfigPath
}

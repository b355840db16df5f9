// Package config loads logger configuration from an optional file, the
// FIELDLOGGER_* environment and command line flags.
package config

import (
	"io"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/field-logger/internal/errors"
)

// EnvPrefix prefixes environment overrides, e.g. FIELDLOGGER_BROKER.
const EnvPrefix = "FIELDLOGGER"

// Channel sources.
const (
	SourceSim  = "sim"
	SourcePin  = "pin"
	SourceNone = "none"
)

// Device identifies the logger in files and topics.
type Device struct {
	Name string `mapstructure:"name" yaml:"name"`
	Code string `mapstructure:"code" yaml:"code"`
}

// Sim shapes a simulated channel.
type Sim struct {
	Intercept float64 `mapstructure:"intercept" yaml:"intercept"`
	Slope     float64 `mapstructure:"slope" yaml:"slope"`
	Range     float64 `mapstructure:"range" yaml:"range"`
	Amplitude float64 `mapstructure:"amplitude" yaml:"amplitude"`
	Period    float64 `mapstructure:"period" yaml:"period"`
}

// Channel declares one data stream.
type Channel struct {
	Name            string  `mapstructure:"name" yaml:"name"`
	Short           string  `mapstructure:"short" yaml:"short"`
	Units           string  `mapstructure:"units" yaml:"units,omitempty"`
	Output          int     `mapstructure:"output" yaml:"output"`
	Trend           bool    `mapstructure:"trend" yaml:"trend,omitempty"`
	Source          string  `mapstructure:"source" yaml:"source"`
	Pin             int     `mapstructure:"pin" yaml:"pin,omitempty"`
	Baseline        string  `mapstructure:"baseline" yaml:"baseline,omitempty"`
	BaselineValue   float64 `mapstructure:"baseline_value" yaml:"baseline_value,omitempty"`
	BaselineSamples int     `mapstructure:"baseline_samples" yaml:"baseline_samples,omitempty"`
	Sim             Sim     `mapstructure:"sim" yaml:"sim,omitempty"`
}

// Event declares one event tracker. A tracker follows either a pin or a
// channel threshold, or neither when it is classified by other code.
type Event struct {
	Name        string    `mapstructure:"name" yaml:"name"`
	Short       string    `mapstructure:"short" yaml:"short"`
	Type        int       `mapstructure:"type" yaml:"type,omitempty"`
	States      []string  `mapstructure:"states" yaml:"states,omitempty"`
	NumStates   int       `mapstructure:"num_states" yaml:"num_states,omitempty"`
	Initial     int       `mapstructure:"initial" yaml:"initial,omitempty"`
	Pin         *int      `mapstructure:"pin" yaml:"pin,omitempty"`
	Channel     string    `mapstructure:"channel" yaml:"channel,omitempty"`
	Quantity    string    `mapstructure:"quantity" yaml:"quantity,omitempty"`
	Threshold   string    `mapstructure:"threshold" yaml:"threshold,omitempty"`
	Breakpoints []float64 `mapstructure:"breakpoints" yaml:"breakpoints,omitempty"`
	DebounceMs  int64     `mapstructure:"debounce_ms" yaml:"debounce_ms,omitempty"`
	RepeatMs    int64     `mapstructure:"repeat_ms" yaml:"repeat_ms,omitempty"`
}

// Config is the effective logger configuration.
type Config struct {
	Device      Device `mapstructure:"device" yaml:"device"`
	SampleMs    int64  `mapstructure:"sample_ms" yaml:"sample_ms"`
	ReportMs    int64  `mapstructure:"report_ms" yaml:"report_ms"`
	HeartbeatMs int64  `mapstructure:"heartbeat_ms" yaml:"heartbeat_ms"`
	Separator   string `mapstructure:"separator" yaml:"separator"`

	DataRoot   string `mapstructure:"data_root" yaml:"data_root"`
	Folder     string `mapstructure:"folder" yaml:"folder,omitempty"`
	FileOutput bool   `mapstructure:"file_output" yaml:"file_output"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	RTC        bool   `mapstructure:"rtc" yaml:"rtc"`

	Chip      string `mapstructure:"chip" yaml:"chip"`
	ActiveLow bool   `mapstructure:"active_low" yaml:"active_low,omitempty"`
	Simulate  bool   `mapstructure:"simulate" yaml:"simulate,omitempty"`
	Seed      int64  `mapstructure:"seed" yaml:"seed,omitempty"`

	Broker    string `mapstructure:"broker" yaml:"broker,omitempty"`
	ClientID  string `mapstructure:"client_id" yaml:"client_id,omitempty"`
	HTTPAddr  string `mapstructure:"http_addr" yaml:"http_addr,omitempty"`
	HistoryDB string `mapstructure:"history_db" yaml:"history_db,omitempty"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`

	Channels []Channel `mapstructure:"channels" yaml:"channels"`
	Events   []Event   `mapstructure:"events" yaml:"events"`
}

// defaults lists every scalar key so environment overrides reach Unmarshal.
var defaults = map[string]interface{}{
	"device.name":  "Field Logger",
	"device.code":  "FL",
	"sample_ms":    1000,
	"report_ms":    10000,
	"heartbeat_ms": 900000,
	"separator":    "\t",
	"data_root":    "data",
	"file_output":  true,
	"console":      true,
	"rtc":          true,
	"chip":         "gpiochip0",
	"log_level":    "info",
	"folder":       "",
	"active_low":   false,
	"simulate":     false,
	"seed":         0,
	"broker":       "",
	"client_id":    "",
	"http_addr":    "",
	"history_db":   "",
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"device-name": "device.name",
	"device-code": "device.code",
	"sample":      "sample_ms",
	"report":      "report_ms",
	"heartbeat":   "heartbeat_ms",
	"separator":   "separator",
	"data-root":   "data_root",
	"folder":      "folder",
	"no-file":     "file_output",
	"console":     "console",
	"chip":        "chip",
	"active-low":  "active_low",
	"simulate":    "simulate",
	"seed":        "seed",
	"broker":      "broker",
	"client-id":   "client_id",
	"http":        "http_addr",
	"history-db":  "history_db",
	"log-level":   "log_level",
}

// RegisterFlags adds the configuration flags to fs. Flags only override
// the file and environment when set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("device-name", "", "Device name written to file headers")
	fs.String("device-code", "", "Short device code used in rows and topics")
	fs.Int64("sample", 0, "Sampling period in milliseconds")
	fs.Int64("report", 0, "Report interval in milliseconds")
	fs.Int64("heartbeat", 0, "Heartbeat interval in milliseconds (0 disables)")
	fs.String("separator", "", "Column separator")
	fs.String("data-root", "", "Root directory for session folders")
	fs.String("folder", "", "Session folder name used without a real-time clock")
	fs.Bool("no-file", false, "Disable file output")
	fs.Bool("console", true, "Echo records to the console")
	fs.String("chip", "", "GPIO character device")
	fs.Bool("active-low", false, "Invert pin levels")
	fs.Bool("simulate", false, "Feed every channel from the simulator")
	fs.Int64("seed", 0, "Simulator seed (0 uses the clock)")
	fs.String("broker", "", "MQTT broker address (empty disables)")
	fs.String("client-id", "", "MQTT client id")
	fs.String("http", "", "HTTP status address (empty disables)")
	fs.String("history-db", "", "SQLite history database (empty disables)")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
}

// Load reads configuration from path (or the default search locations
// when path is empty), the environment and the changed flags in fs.
// fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("field-logger")
		v.AddConfigPath("/etc/field-logger")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if fs != nil {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			if f.Name == "no-file" {
				v.Set(key, f.Value.String() != "true")
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return enc.Close()
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/RoanBrand/serialbridge/bridge"
	"github.com/RoanBrand/serialbridge/comwrapper"
)

const defaultConfigFile = "serialbridge.json"

// Configuration by json file (comments allowed). Every field is optional.
type fileConfig struct {
	Device        string   `json:"usb device"`
	Patterns      []string `json:"device patterns"`
	Baud          int      `json:"baud rate"`
	Listen        string   `json:"listen"`
	Passthrough   bool     `json:"keyboard passthru"`
	Verbose       bool     `json:"debug"`
	WriteDelay    string   `json:"write delay"`
	Keyword       *string  `json:"logout keyword"`
	MetricsListen string   `json:"metrics listen"`
}

// options is the resolved command line.
type options struct {
	config        bridge.Config
	metricsListen string
	showVersion   bool
	showHelp      bool
}

func newFlagSet() *pflag.FlagSet {
	d := bridge.DefaultConfig()
	flags := pflag.NewFlagSet("serialbridge", pflag.ContinueOnError)
	flags.StringP("config", "c", "", "json config file (default: ./"+defaultConfigFile+" or next to the executable, if present)")
	flags.IntP("port", "p", 8080, "network connection port")
	flags.StringP("listen", "l", "", "network listen address, overrides --port (e.g. 127.0.0.1:8080)")
	flags.StringP("usbdevice", "u", "", "serial device path (default: first match of --pattern)")
	flags.StringSlice("pattern", nil, fmt.Sprintf("device glob pattern, repeatable (default %v)", comwrapper.DefaultPatterns))
	flags.IntP("baud", "b", d.Baud, "baud rate for the serial device")
	flags.BoolP("keyboard-passthru", "k", false, "forward local keyboard input to the device and echo its output (^] quits)")
	flags.BoolP("debug", "d", false, "log every relayed chunk")
	flags.BoolP("verbose", "v", false, "same as --debug")
	flags.Duration("delay", d.WriteDelay, "minimum delay between bytes written to the device")
	flags.String("keyword", d.Keyword, `a client chunk starting with this ends the session ("" turns it off)`)
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address (e.g. :9100)")
	flags.Bool("version", false, "print version and exit")
	return flags
}

// parseArgs builds the bridge configuration: defaults, then the config
// file, then any flag given explicitly on the command line.
func parseArgs(args []string) (options, error) {
	flags := newFlagSet()
	var opts options
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			opts.showHelp = true
			return opts, nil
		}
		return opts, err
	}
	if v, _ := flags.GetBool("version"); v {
		opts.showVersion = true
		return opts, nil
	}

	cfg := bridge.DefaultConfig()
	configPath, _ := flags.GetString("config")
	fc, err := loadConfig(configPath)
	if err != nil {
		return opts, err
	}
	if fc != nil {
		if err := fc.apply(&cfg); err != nil {
			return opts, err
		}
		opts.metricsListen = fc.MetricsListen
	}

	if flags.Changed("port") {
		port, _ := flags.GetInt("port")
		cfg.ListenAddr = fmt.Sprintf(":%d", port)
	}
	if flags.Changed("listen") {
		cfg.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("usbdevice") {
		cfg.Device, _ = flags.GetString("usbdevice")
	}
	if flags.Changed("pattern") {
		cfg.Patterns, _ = flags.GetStringSlice("pattern")
	}
	if flags.Changed("baud") {
		cfg.Baud, _ = flags.GetInt("baud")
	}
	if flags.Changed("keyboard-passthru") {
		cfg.Passthrough, _ = flags.GetBool("keyboard-passthru")
	}
	debug, _ := flags.GetBool("debug")
	verbose, _ := flags.GetBool("verbose")
	if debug || verbose {
		cfg.Verbose = true
	}
	if flags.Changed("delay") {
		cfg.WriteDelay, _ = flags.GetDuration("delay")
	}
	if flags.Changed("keyword") {
		keyword, _ := flags.GetString("keyword")
		setKeyword(&cfg, keyword)
	}
	if flags.Changed("metrics-listen") {
		opts.metricsListen, _ = flags.GetString("metrics-listen")
	}

	if err := cfg.Validate(); err != nil {
		return opts, err
	}
	opts.config = cfg
	return opts, nil
}

func (fc *fileConfig) apply(cfg *bridge.Config) error {
	if fc.Device != "" {
		cfg.Device = fc.Device
	}
	if len(fc.Patterns) > 0 {
		cfg.Patterns = fc.Patterns
	}
	if fc.Baud != 0 {
		cfg.Baud = fc.Baud
	}
	if fc.Listen != "" {
		cfg.ListenAddr = fc.Listen
	}
	cfg.Passthrough = cfg.Passthrough || fc.Passthrough
	cfg.Verbose = cfg.Verbose || fc.Verbose
	if fc.WriteDelay != "" {
		d, err := time.ParseDuration(fc.WriteDelay)
		if err != nil {
			return fmt.Errorf("config: write delay: %w", err)
		}
		cfg.WriteDelay = d
	}
	if fc.Keyword != nil {
		setKeyword(cfg, *fc.Keyword)
	}
	return nil
}

// setKeyword applies an explicitly configured keyword; empty disables it.
func setKeyword(cfg *bridge.Config, keyword string) {
	cfg.Keyword = keyword
	cfg.NoKeyword = keyword == ""
}

// loadConfig reads the config file. An explicit path must exist; otherwise
// the default file is looked for in the working directory, then next to the
// executable, and its absence is not an error.
func loadConfig(filePath string) (*fileConfig, error) {
	if filePath == "" {
		filePath = defaultConfigFile
		// if file not found in current WD, try executable's folder
		if !fileExists(filePath) {
			exePath, err := os.Executable()
			if err != nil {
				return nil, nil
			}
			filePath = path.Join(path.Dir(exePath), defaultConfigFile)
			if !fileExists(filePath) {
				return nil, nil
			}
		}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filePath, err)
	}

	// Comments and trailing commas are allowed.
	configuration := fileConfig{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &configuration); err != nil {
		return nil, fmt.Errorf("config %s: %w", filePath, err)
	}
	return &configuration, nil
}

// fileExists checks if a file exists and is not a directory before we try using it to prevent further errors.
func fileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

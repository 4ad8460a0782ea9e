package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const envPrefix = "CANSCOPE_"

type appConfig struct {
	configFile      string
	listenAddr      string
	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	backend         string
	iface           string
	autostart       bool
	reconnect       bool
	catalogPath     string
	baud            int
	serialReadTO    time.Duration
	dialTO          time.Duration
	handshakeTO     time.Duration
	receiveTO       time.Duration
	queueCap        int
	streamBuffer    int
	streamPolicy    string
	mdnsEnable      bool
	mdnsName        string
	loopbackDemo    time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg, showVersion, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, showVersion
	}
	return cfg, showVersion
}

// parseConfig resolves settings with precedence flag > environment > config file > default.
func parseConfig(args []string, out io.Writer) (*appConfig, bool, error) {
	cfg := &appConfig{}
	fs := flag.NewFlagSet("canscope", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.configFile, "config", "", "Optional TOML config file")
	fs.StringVar(&cfg.listenAddr, "listen", ":8080", "HTTP API listen address")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error|off")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.StringVar(&cfg.backend, "backend", "socketcan", "CAN backend: socketcan|serial|cannelloni|loopback")
	fs.StringVar(&cfg.iface, "interface", "can0", "Bus to open: CAN interface, serial device, cannelloni host:port or loopback bus name")
	fs.BoolVar(&cfg.autostart, "autostart", false, "Start the bus session on launch")
	fs.BoolVar(&cfg.reconnect, "reconnect", false, "Restart the session with backoff after a fatal receive error")
	fs.StringVar(&cfg.catalogPath, "catalog", "", "DBC file loaded on launch")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial port read timeout")
	fs.DurationVar(&cfg.dialTO, "dial-timeout", 3*time.Second, "Cannelloni dial timeout")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Cannelloni handshake timeout")
	fs.DurationVar(&cfg.receiveTO, "receive-timeout", 100*time.Millisecond, "Session receive timeout (bounds stop latency)")
	fs.IntVar(&cfg.queueCap, "queue-capacity", 1024, "Outgoing frame queue capacity (0 = unbounded)")
	fs.IntVar(&cfg.streamBuffer, "stream-buffer", 256, "Per-subscriber stream buffer (updates)")
	fs.StringVar(&cfg.streamPolicy, "stream-policy", "drop", "Stream backpressure policy: drop|kick")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement of the HTTP API")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default canscope-<hostname>)")
	fs.DurationVar(&cfg.loopbackDemo, "loopback-demo-interval", 0, "If >0 with the loopback backend, inject synthetic traffic on the bus at this period")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}

	// Track which flags were explicitly set to give them precedence.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if _, ok := setFlags["config"]; !ok {
		if v, ok := os.LookupEnv(envPrefix + "CONFIG"); ok {
			cfg.configFile = strings.TrimSpace(v)
		}
	}
	if cfg.configFile != "" {
		if err := applyFile(cfg, cfg.configFile, setFlags); err != nil {
			return nil, false, err
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// setting binds a flag name to a textual setter shared by env and file sources.
type setting struct {
	name string
	set  func(string) error
}

func strSetter(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func intSetter(p *int, min int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n < min {
			return fmt.Errorf("must be >= %d", min)
		}
		*p = n
		return nil
	}
}

func durSetter(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		if d < 0 {
			return errors.New("must not be negative")
		}
		*p = d
		return nil
	}
}

func boolSetter(p *bool) func(string) error {
	return func(v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*p = true
		case "0", "false", "no", "off":
			*p = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}
}

func (c *appConfig) settings() []setting {
	return []setting{
		{"listen", strSetter(&c.listenAddr)},
		{"metrics-addr", strSetter(&c.metricsAddr)},
		{"log-format", strSetter(&c.logFormat)},
		{"log-level", strSetter(&c.logLevel)},
		{"log-metrics-interval", durSetter(&c.logMetricsEvery)},
		{"backend", strSetter(&c.backend)},
		{"interface", strSetter(&c.iface)},
		{"autostart", boolSetter(&c.autostart)},
		{"reconnect", boolSetter(&c.reconnect)},
		{"catalog", strSetter(&c.catalogPath)},
		{"baud", intSetter(&c.baud, 1)},
		{"serial-read-timeout", durSetter(&c.serialReadTO)},
		{"dial-timeout", durSetter(&c.dialTO)},
		{"handshake-timeout", durSetter(&c.handshakeTO)},
		{"receive-timeout", durSetter(&c.receiveTO)},
		{"queue-capacity", intSetter(&c.queueCap, 0)},
		{"stream-buffer", intSetter(&c.streamBuffer, 1)},
		{"stream-policy", strSetter(&c.streamPolicy)},
		{"mdns-enable", boolSetter(&c.mdnsEnable)},
		{"mdns-name", strSetter(&c.mdnsName)},
		{"loopback-demo-interval", durSetter(&c.loopbackDemo)},
	}
}

// envName maps a flag name to its environment variable, e.g. log-level -> CANSCOPE_LOG_LEVEL.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// fileKey maps a flag name to its TOML key, e.g. log-level -> log_level.
func fileKey(flagName string) string { return strings.ReplaceAll(flagName, "-", "_") }

// applyEnvOverrides maps CANSCOPE_* environment variables to config fields
// unless the corresponding flag was explicitly set. Empty values are ignored.
// The first parse error is returned after all variables were considered.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	for _, s := range c.settings() {
		if _, ok := set[s.name]; ok {
			continue
		}
		v, ok := os.LookupEnv(envName(s.name))
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		if err := s.set(v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envName(s.name), err)
		}
	}
	return firstErr
}

// applyFile loads a flat TOML file whose keys are flag names with '_'
// instead of '-'. Keys for explicitly set flags are skipped.
func applyFile(c *appConfig, path string, set map[string]struct{}) error {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	byKey := map[string]setting{}
	for _, s := range c.settings() {
		byKey[fileKey(s.name)] = s
	}
	var unknown []string
	for k := range raw {
		if _, ok := byKey[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("config file %s: unrecognized keys: %s", path, strings.Join(unknown, ", "))
	}
	for k, v := range raw {
		s := byKey[k]
		if _, ok := set[s.name]; ok {
			continue
		}
		var text string
		switch tv := v.(type) {
		case string:
			text = tv
		case int64:
			text = strconv.FormatInt(tv, 10)
		case bool:
			text = strconv.FormatBool(tv)
		default:
			return fmt.Errorf("config file %s: %s: unsupported value %v", path, k, v)
		}
		if err := s.set(text); err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, k, err)
		}
	}
	return nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error", "off":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case backendSocketCAN, backendSerial, backendCannelloni, backendLoopback:
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.streamPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid stream-policy: %s", c.streamPolicy)
	}
	if c.streamBuffer <= 0 {
		return fmt.Errorf("stream-buffer must be > 0 (got %d)", c.streamBuffer)
	}
	if c.queueCap < 0 {
		return fmt.Errorf("queue-capacity must be >= 0 (got %d)", c.queueCap)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.dialTO <= 0 {
		return fmt.Errorf("dial-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.receiveTO <= 0 {
		return fmt.Errorf("receive-timeout must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	if c.loopbackDemo < 0 {
		return fmt.Errorf("loopback-demo-interval must be >= 0")
	}
	if c.loopbackDemo > 0 && c.backend != backendLoopback {
		return fmt.Errorf("loopback-demo-interval requires the loopback backend (got %s)", c.backend)
	}
	if c.autostart && strings.TrimSpace(c.iface) == "" {
		return fmt.Errorf("autostart requires an interface")
	}
	if c.listenAddr == "" {
		return fmt.Errorf("listen address required")
	}
	return nil
}

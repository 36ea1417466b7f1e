// Package config loads execbridge settings from a YAML file and EXECBRIDGE_*
// environment variables. The result is built once at startup and handed to
// each component as plain values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/sameehj/execbridge/pkg/access"
	"github.com/sameehj/execbridge/pkg/exec"
	"github.com/sameehj/execbridge/pkg/fsops"
	"github.com/sameehj/execbridge/pkg/interp"
	"github.com/sameehj/execbridge/pkg/types"
	"gopkg.in/yaml.v3"
)

const envPrefix = "EXECBRIDGE_"

type Config struct {
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"`
	Debug        bool               `yaml:"debug"`
	Access       AccessConfig       `yaml:"access"`
	Interpreters InterpretersConfig `yaml:"interpreters"`
	Exec         ExecConfig         `yaml:"exec"`
	Files        FilesConfig        `yaml:"files"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	HTTP         HTTPConfig         `yaml:"http"`
}

type AccessConfig struct {
	Volumes    []string `yaml:"volumes"`
	Prefixes   []string `yaml:"prefixes"`
	ScratchDir string   `yaml:"scratch_dir"`
	OpenPaths  []string `yaml:"open_paths"`
	// HomeUsers name Windows profiles (<drive>:/Users/<name> and the WSL
	// mount of it) that stay open besides the one matching the home dir.
	HomeUsers  []string `yaml:"home_users"`
}

type InterpretersConfig struct {
	Python     InterpreterConfig `yaml:"python"`
	PowerShell InterpreterConfig `yaml:"powershell"`
}

// InterpreterConfig names an executable, optionally followed by arguments
// that precede every script ("py -3").
type InterpreterConfig struct {
	Command        string        `yaml:"command"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MinTimeout     time.Duration `yaml:"min_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
}

type ExecConfig struct {
	MaxOutput int           `yaml:"max_output"`
	WaitDelay time.Duration `yaml:"wait_delay"`
}

type FilesConfig struct {
	MaxReadBytes     int64 `yaml:"max_read_bytes"`
	MaxSearchResults int   `yaml:"max_search_results"`
}

type GatewayConfig struct {
	Address      string   `yaml:"address"`
	AllowedAddrs []string `yaml:"allowed_addrs"`
	MaxSessions  int      `yaml:"max_sessions"`
}

// HTTPConfig limits the HTTP transport to the listed remote addresses
// (same forms as the gateway list) and browser origins.
type HTTPConfig struct {
	Address        string   `yaml:"address"`
	AllowedAddrs   []string `yaml:"allowed_addrs"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the documented defaults: the home directory is the only
// permitted prefix and no drive volume is permitted.
func Default() *Config {
	home, _ := os.UserHomeDir()
	var prefixes []string
	if home != "" {
		prefixes = []string{home}
	}
	return &Config{
		LogLevel: "info",
		Access: AccessConfig{
			Prefixes:   prefixes,
			ScratchDir: interp.DefaultScratchDir(),
			HomeUsers:  defaultHomeUsers(os.Getenv),
		},
		Interpreters: InterpretersConfig{
			Python: InterpreterConfig{
				Command:        interp.DefaultPython().Command,
				DefaultTimeout: 30 * time.Second,
				MinTimeout:     time.Second,
				MaxTimeout:     5 * time.Minute,
			},
			PowerShell: InterpreterConfig{
				Command:        interp.DefaultPowerShell().Command,
				DefaultTimeout: 60 * time.Second,
				MinTimeout:     time.Second,
				MaxTimeout:     10 * time.Minute,
			},
		},
		Exec: ExecConfig{
			MaxOutput: 0,
			WaitDelay: exec.DefaultWaitDelay,
		},
		Files: FilesConfig{
			MaxReadBytes:     fsops.DefaultMaxReadBytes,
			MaxSearchResults: fsops.DefaultMaxSearchResults,
		},
		Gateway: GatewayConfig{Address: "127.0.0.1:7777"},
		HTTP:    HTTPConfig{Address: "127.0.0.1:7778"},
	}
}

// defaultHomeUsers names the Windows profile owner: USERPROFILE when it is
// shared into the environment (WSLENV), then USER.
func defaultHomeUsers(getenv func(string) string) []string {
	var users []string
	if profile := strings.TrimRight(strings.ReplaceAll(getenv("USERPROFILE"), `\`, "/"), "/"); profile != "" {
		users = append(users, profile[strings.LastIndex(profile, "/")+1:])
	}
	if user := getenv("USER"); user != "" {
		users = append(users, user)
	}
	return users
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns the config file used when --config is not given, or ""
// if none exists.
func DefaultPath() string {
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		return path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "execbridge", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = splitList(v)
		}
	}
	var errs []error
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	if v, ok := lookup(envPrefix + "DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDEBUG: %w", envPrefix, err))
		} else {
			c.Debug = b
		}
	}
	list("VOLUMES", &c.Access.Volumes)
	list("PREFIXES", &c.Access.Prefixes)
	list("OPEN_PATHS", &c.Access.OpenPaths)
	list("HOME_USERS", &c.Access.HomeUsers)
	str("SCRATCH_DIR", &c.Access.ScratchDir)
	str("PYTHON", &c.Interpreters.Python.Command)
	str("POWERSHELL", &c.Interpreters.PowerShell.Command)
	dur("PYTHON_TIMEOUT", &c.Interpreters.Python.DefaultTimeout)
	dur("PYTHON_MAX_TIMEOUT", &c.Interpreters.Python.MaxTimeout)
	dur("POWERSHELL_TIMEOUT", &c.Interpreters.PowerShell.DefaultTimeout)
	dur("POWERSHELL_MAX_TIMEOUT", &c.Interpreters.PowerShell.MaxTimeout)
	num("MAX_OUTPUT", &c.Exec.MaxOutput)
	str("GATEWAY_ADDR", &c.Gateway.Address)
	list("GATEWAY_ALLOWED_ADDRS", &c.Gateway.AllowedAddrs)
	num("GATEWAY_MAX_SESSIONS", &c.Gateway.MaxSessions)
	str("HTTP_ADDR", &c.HTTP.Address)
	list("HTTP_ALLOWED_ADDRS", &c.HTTP.AllowedAddrs)
	list("HTTP_ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)
	return errors.Join(errs...)
}

// splitList accepts comma separated values; blanks are dropped.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	for name, ic := range map[string]InterpreterConfig{"python": c.Interpreters.Python, "powershell": c.Interpreters.PowerShell} {
		if strings.TrimSpace(ic.Command) == "" {
			errs = append(errs, fmt.Errorf("interpreters.%s.command is required", name))
		} else if _, err := parseCommand(ic.Command); err != nil {
			errs = append(errs, fmt.Errorf("interpreters.%s.command: %w", name, err))
		}
		if ic.MinTimeout < 0 || ic.DefaultTimeout < 0 || ic.MaxTimeout < 0 {
			errs = append(errs, fmt.Errorf("interpreters.%s: timeouts must not be negative", name))
		}
		if ic.MaxTimeout > 0 && ic.MinTimeout > ic.MaxTimeout {
			errs = append(errs, fmt.Errorf("interpreters.%s: min_timeout %s exceeds max_timeout %s", name, ic.MinTimeout, ic.MaxTimeout))
		}
		if ic.MaxTimeout > 0 && ic.DefaultTimeout > ic.MaxTimeout {
			errs = append(errs, fmt.Errorf("interpreters.%s: default_timeout %s exceeds max_timeout %s", name, ic.DefaultTimeout, ic.MaxTimeout))
		}
	}
	if c.Access.ScratchDir == "" {
		errs = append(errs, errors.New("access.scratch_dir is required"))
	}
	for _, v := range c.Access.Volumes {
		trimmed := strings.TrimSuffix(strings.TrimSpace(v), ":")
		if len(trimmed) != 1 || !isLetter(trimmed[0]) {
			errs = append(errs, fmt.Errorf("access.volumes: %q is not a drive letter", v))
		}
	}
	if c.Exec.MaxOutput < 0 {
		errs = append(errs, errors.New("exec.max_output must not be negative"))
	}
	if c.Gateway.MaxSessions < 0 {
		errs = append(errs, errors.New("gateway.max_sessions must not be negative"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or text", c.LogFormat))
	}
	return errors.Join(errs...)
}

// EffectiveLogLevel applies the debug toggle.
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// Policy returns the access policy. Relative paths resolve against the
// working directory, "~" against the home directory.
func (c *Config) Policy() access.Policy {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()
	return access.Policy{
		Volumes:    append([]string(nil), c.Access.Volumes...),
		Prefixes:   append([]string(nil), c.Access.Prefixes...),
		ScratchDir: c.Access.ScratchDir,
		OpenPaths:  append([]string(nil), c.Access.OpenPaths...),
		HomeDir:    home,
		HomeUsers:  append([]string(nil), c.Access.HomeUsers...),
		BaseDir:    wd,
	}
}

// Limits returns the timeout bounds per execution kind. Shell commands run
// under the PowerShell bounds.
func (c *Config) Limits() map[types.Kind]exec.Limits {
	toLimits := func(ic InterpreterConfig) exec.Limits {
		return exec.Limits{Default: ic.DefaultTimeout, Min: ic.MinTimeout, Max: ic.MaxTimeout}
	}
	return map[types.Kind]exec.Limits{
		types.KindPython:     toLimits(c.Interpreters.Python),
		types.KindPowerShell: toLimits(c.Interpreters.PowerShell),
		types.KindGeneric:    exec.DefaultLimits,
	}
}

func (c *Config) FilesOptions() fsops.Options {
	return fsops.Options{MaxReadBytes: c.Files.MaxReadBytes, MaxSearchResults: c.Files.MaxSearchResults}
}

// InterpOptions returns the facade options. Commands were checked by
// Validate; a parse failure here falls back to the raw string.
func (c *Config) InterpOptions(version string) interp.Options {
	home, _ := os.UserHomeDir()
	return interp.Options{
		Python:     interpreter(c.Interpreters.Python.Command),
		PowerShell: interpreter(c.Interpreters.PowerShell.Command),
		ScratchDir: c.Access.ScratchDir,
		HomeDir:    home,
		Version:    version,
	}
}

func interpreter(command string) interp.Interpreter {
	words, err := parseCommand(command)
	if err != nil || len(words) == 0 {
		return interp.Interpreter{Command: strings.TrimSpace(command)}
	}
	return interp.Interpreter{Command: words[0], Args: words[1:]}
}

// parseCommand splits command into words. A command naming an existing file
// is taken verbatim so Windows paths keep their backslashes and spaces.
func parseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if info, err := os.Stat(command); err == nil && !info.IsDir() {
		return []string{command}, nil
	}
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	words, err := parser.Parse(command)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, errors.New("empty command")
	}
	return words, nil
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

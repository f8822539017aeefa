// Package config resolves the bot configuration from a YAML file plus
// environment overrides, and holds the live runtime configuration shared by
// all components. The configuration is loaded once at startup and mutated
// thereafter only through the !config command.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration document. Unknown keys are ignored.
type File struct {
	SignalService     string   `yaml:"signal_service"`
	PhoneNumber       string   `yaml:"phone_number"`
	AdminNumbers      []string `yaml:"admin_numbers"`
	ProtectedUsers    []string `yaml:"protected_users"`
	IdleThresholdDays int      `yaml:"idle_threshold_days"`
	ActivityFile      string   `yaml:"activity_file"`
	DryRun            *bool    `yaml:"dry_run"`
	LogLevel          string   `yaml:"log_level"`
	LogFile           string   `yaml:"log_file"`
	HTTPAddr          string   `yaml:"http_addr"`
	APIKey            string   `yaml:"api_key"`
	AuditDB           string   `yaml:"audit_db"`
}

// overrides are the environment variables recognized on top of the file.
// Numeric and boolean values are read as strings so a single malformed
// override can be rejected without failing the whole load.
type overrides struct {
	SignalService     string   `envconfig:"SIGNAL_SERVICE"`
	PhoneNumber       string   `envconfig:"BOT_PHONE_NUMBER"`
	AdminNumbers      []string `envconfig:"ADMIN_NUMBERS"`
	ProtectedUsers    []string `envconfig:"PROTECTED_USERS"`
	IdleThresholdDays string   `envconfig:"IDLE_THRESHOLD_DAYS"`
	ActivityFile      string   `envconfig:"ACTIVITY_FILE"`
	DryRun            string   `envconfig:"DRY_RUN"`
	LogLevel          string   `envconfig:"LOG_LEVEL"`
	LogFile           string   `envconfig:"LOG_FILE"`
	HTTPAddr          string   `envconfig:"HTTP_ADDR"`
	APIKey            string   `envconfig:"API_KEY"`
	AuditDB           string   `envconfig:"AUDIT_DB"`
}

// Config is the process-wide runtime configuration. Accessors take a read
// lock so the !config handler can mutate threshold and dry-run while the
// ops API reads concurrently.
type Config struct {
	mu sync.RWMutex

	signalService string
	phoneNumber   string
	admins        map[string]struct{}
	protected     map[string]struct{}
	thresholdDays int
	activityFile  string
	dryRun        bool
	logLevel      string
	logFile       string
	httpAddr      string
	apiKey        string
	auditDB       string
}

func defaults() File {
	dryRun := true
	return File{
		SignalService:     "127.0.0.1:8080",
		IdleThresholdDays: 30,
		ActivityFile:      "data/user_activity.json",
		DryRun:            &dryRun,
		LogLevel:          "info",
		HTTPAddr:          ":8080",
		AuditDB:           "data/audit.db",
	}
}

// Resolve loads the configuration file at path and applies environment
// overrides. A missing file falls back to the default configuration; a
// malformed file is an error. Malformed individual overrides are logged and
// ignored, never fatal.
func Resolve(path string, logger zerolog.Logger) (*Config, error) {
	logger = logger.With().Str("component", "config").Logger()

	f := defaults()
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Warn().Str("path", path).Msg("config file not found - using defaults")
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var env overrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	applyOverrides(&f, env, logger)

	if f.IdleThresholdDays <= 0 {
		logger.Warn().Int("idle_threshold_days", f.IdleThresholdDays).Msg("invalid threshold - using default 30")
		f.IdleThresholdDays = 30
	}

	return New(f), nil
}

// New builds a runtime configuration from a resolved file document.
func New(f File) *Config {
	if f.IdleThresholdDays <= 0 {
		f.IdleThresholdDays = 30
	}
	return &Config{
		signalService: f.SignalService,
		phoneNumber:   f.PhoneNumber,
		admins:        toSet(f.AdminNumbers),
		protected:     toSet(f.ProtectedUsers),
		thresholdDays: f.IdleThresholdDays,
		activityFile:  f.ActivityFile,
		dryRun:        f.DryRun == nil || *f.DryRun,
		logLevel:      f.LogLevel,
		logFile:       f.LogFile,
		httpAddr:      f.HTTPAddr,
		apiKey:        f.APIKey,
		auditDB:       f.AuditDB,
	}
}

func applyOverrides(f *File, env overrides, logger zerolog.Logger) {
	if env.SignalService != "" {
		f.SignalService = env.SignalService
	}
	if env.PhoneNumber != "" {
		f.PhoneNumber = env.PhoneNumber
	}
	if len(env.AdminNumbers) > 0 {
		f.AdminNumbers = env.AdminNumbers
	}
	if len(env.ProtectedUsers) > 0 {
		f.ProtectedUsers = env.ProtectedUsers
	}
	if env.IdleThresholdDays != "" {
		if days, err := strconv.Atoi(env.IdleThresholdDays); err == nil && days > 0 {
			f.IdleThresholdDays = days
		} else {
			logger.Warn().Str("value", env.IdleThresholdDays).Msg("ignoring invalid IDLE_THRESHOLD_DAYS")
		}
	}
	if env.ActivityFile != "" {
		f.ActivityFile = env.ActivityFile
	}
	if env.DryRun != "" {
		v := Truthy(env.DryRun)
		f.DryRun = &v
	}
	if env.LogLevel != "" {
		f.LogLevel = env.LogLevel
	}
	if env.LogFile != "" {
		f.LogFile = env.LogFile
	}
	if env.HTTPAddr != "" {
		f.HTTPAddr = env.HTTPAddr
	}
	if env.APIKey != "" {
		f.APIKey = env.APIKey
	}
	if env.AuditDB != "" {
		f.AuditDB = env.AuditDB
	}
}

// Truthy reports whether s is one of the accepted true spellings
// (true, 1, yes), case-insensitively. Anything else is false.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// IsAdmin reports whether identifier may invoke privileged commands.
// Membership is re-evaluated against the live configuration on every call.
func (c *Config) IsAdmin(identifier string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.admins[identifier]
	return ok
}

// Policy returns the snapshot the idle evaluator consumes: the current
// threshold and a copy of the protected set.
func (c *Config) Policy() (thresholdDays int, protected map[string]struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	protected = make(map[string]struct{}, len(c.protected))
	for id := range c.protected {
		protected[id] = struct{}{}
	}
	return c.thresholdDays, protected
}

// ThresholdDays returns the current idle threshold.
func (c *Config) ThresholdDays() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholdDays
}

// SetThresholdDays updates the idle threshold. Takes effect for the next
// message; days must already be validated positive by the caller.
func (c *Config) SetThresholdDays(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholdDays = days
}

// DryRun reports whether destructive actions are only reported.
func (c *Config) DryRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dryRun
}

// SetDryRun updates the dry-run flag.
func (c *Config) SetDryRun(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dryRun = v
}

// AdminCount returns the number of configured admins.
func (c *Config) AdminCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.admins)
}

// ProtectedCount returns the number of protected members.
func (c *Config) ProtectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.protected)
}

// SignalService returns the host:port of the Signal REST service.
func (c *Config) SignalService() string { return c.signalService }

// PhoneNumber returns the bot's own identifier.
func (c *Config) PhoneNumber() string { return c.phoneNumber }

// ActivityFile returns the activity persistence path.
func (c *Config) ActivityFile() string { return c.activityFile }

// LogLevel returns the configured log level.
func (c *Config) LogLevel() string { return c.logLevel }

// LogFile returns the rotating log file path, empty for stdout only.
func (c *Config) LogFile() string { return c.logFile }

// HTTPAddr returns the ops API listen address.
func (c *Config) HTTPAddr() string { return c.httpAddr }

// APIKey returns the ops API bearer key. Empty means the API is fail-closed.
func (c *Config) APIKey() string { return c.apiKey }

// AuditDB returns the audit database path.
func (c *Config) AuditDB() string { return c.auditDB }

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the client's settings.
// Stored as JSON at ~/.app-english/config.json; every key can be overridden
// by an APP_ENGLISH_* environment variable or a bound command-line flag.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Practice  PracticeConfig  `mapstructure:"practice"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Hotkey    string          `mapstructure:"hotkey"` // e.g. "ctrl+shift+space"; empty disables it
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	History   HistoryConfig   `mapstructure:"history"`
}

type ServerConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate" validate:"min=8000,max=48000"`
	LiveBuffer int `mapstructure:"live_buffer" validate:"min=1,max=1024"`
}

type PracticeConfig struct {
	TargetText string `mapstructure:"target_text" validate:"required"`
}

type ReferenceConfig struct {
	Lang     string `mapstructure:"lang" validate:"oneof=en-US en-GB en-AU en-IN pt-PT pt-BR fr-FR es-ES es-MX hi-IN"`
	Voice    string `mapstructure:"voice" validate:"required"`
	CacheDir string `mapstructure:"cache_dir"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

const (
	configDirName = ".app-english"
	envPrefix     = "APP_ENGLISH"

	defaultTargetText = "Tomorrow I will go to the school and I will study."
)

// appDir is ~/.app-english, or the working directory if home is unknown.
func appDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configDirName
	}
	return filepath.Join(home, configDirName)
}

// setDefaults registers every key so env and flag overrides resolve.
func setDefaults(v *viper.Viper) {
	dir := appDir()
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.connect_timeout", 30*time.Second)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("audio.sample_rate", audioSampleRate)
	v.SetDefault("audio.live_buffer", defaultLiveBuffer)
	v.SetDefault("practice.target_text", defaultTargetText)
	v.SetDefault("reference.lang", "en-US")
	v.SetDefault("reference.voice", "af_heart")
	v.SetDefault("reference.cache_dir", filepath.Join(dir, "reference"))
	v.SetDefault("hotkey", "ctrl+shift+space")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("history.path", filepath.Join(dir, "history.db"))
}

// defaultConfig returns factory defaults.
func defaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg, decodeHook()) // defaults always decode
	return cfg
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
}

// ConfigService loads and saves the client configuration.
type ConfigService struct {
	path     string
	flags    *pflag.FlagSet
	validate *validator.Validate
	log      *zap.SugaredLogger
}

// NewConfigService creates a ConfigService at path, or at the standard
// location when path is empty.
func NewConfigService(path string, log *zap.SugaredLogger) *ConfigService {
	if path == "" {
		path = filepath.Join(appDir(), "config.json")
	}
	return &ConfigService{path: path, validate: validator.New(), log: log}
}

// newConfigServiceAt creates a ConfigService with a custom path and a no-op logger (tests only).
func newConfigServiceAt(path string) *ConfigService {
	return NewConfigService(path, zap.NewNop().Sugar())
}

// BindFlags makes flags set on the command line override file and environment
// values. Only the flags named in flagKeys are bound.
func (c *ConfigService) BindFlags(fs *pflag.FlagSet) {
	c.flags = fs
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"server":       "server.base_url",
	"text":         "practice.target_text",
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
	"hotkey":       "hotkey",
}

// Path is the config file location.
func (c *ConfigService) Path() string { return c.path }

// Load reads config from disk, environment and flags. Returns defaults if the
// file doesn't exist. A corrupt file is logged and replaced with defaults.
// Values that fail validation are reported as an error.
func (c *ConfigService) Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(c.path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		switch {
		case errors.Is(err, os.ErrNotExist):
			// first run, defaults only
		case errors.As(err, &parseErr):
			c.log.Warnf("parse error: %v — resetting to defaults", err)
			if serr := c.Save(defaultConfig()); serr != nil {
				c.log.Warnf("could not rewrite %s: %v", c.path, serr)
			}
		default:
			c.log.Warnf("read error: %v — using defaults", err)
		}
	}

	if c.flags != nil {
		for name, key := range flagKeys {
			if f := c.flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("config: bind --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to disk atomically (write to temp, then rename).
func (c *ConfigService) Save(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	v := viper.New()
	v.Set("server.base_url", cfg.Server.BaseURL)
	v.Set("server.connect_timeout", cfg.Server.ConnectTimeout.String())
	v.Set("server.read_timeout", cfg.Server.ReadTimeout.String())
	v.Set("server.write_timeout", cfg.Server.WriteTimeout.String())
	v.Set("audio.sample_rate", cfg.Audio.SampleRate)
	v.Set("audio.live_buffer", cfg.Audio.LiveBuffer)
	v.Set("practice.target_text", cfg.Practice.TargetText)
	v.Set("reference.lang", cfg.Reference.Lang)
	v.Set("reference.voice", cfg.Reference.Voice)
	v.Set("reference.cache_dir", cfg.Reference.CacheDir)
	v.Set("hotkey", cfg.Hotkey)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)
	v.Set("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.Set("log.max_backups", cfg.Log.MaxBackups)
	v.Set("log.max_age_days", cfg.Log.MaxAgeDays)
	v.Set("metrics.addr", cfg.Metrics.Addr)
	v.Set("history.path", cfg.History.Path)

	// Keep the .json extension on the temp file so viper picks the encoder.
	tmp := strings.TrimSuffix(c.path, filepath.Ext(c.path)) + ".tmp.json"
	if err := v.WriteConfigAs(tmp); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

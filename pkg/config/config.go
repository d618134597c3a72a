package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/user/gosec-agg/pkg/wrappers"
)

// EnvPrefix prefixes every environment override, e.g. GOSEC_AGG_SCAN_WORKERS.
const EnvPrefix = "GOSEC_AGG"

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format      string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ToolConfig overrides the built-in invocation of one scanner.
type ToolConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Binary         string   `mapstructure:"binary" yaml:"binary,omitempty"`
	Args           []string `mapstructure:"args" yaml:"args,omitempty"`
	ReportFromFile bool     `mapstructure:"report_from_file" yaml:"report_from_file,omitempty"`
	OKExitCodes    []int    `mapstructure:"ok_exit_codes" yaml:"ok_exit_codes,omitempty"`
}

type ScanConfig struct {
	Workers     int                   `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
	ToolTimeout time.Duration         `mapstructure:"tool_timeout" yaml:"tool_timeout" validate:"gte=0"`
	Tools       map[string]ToolConfig `mapstructure:"tools" yaml:"tools"`
}

type NormalizeConfig struct {
	BlockSize int `mapstructure:"block_size" yaml:"block_size" validate:"gte=1"`
}

type DiscrepancyConfig struct {
	ContextLines int `mapstructure:"context_lines" yaml:"context_lines" validate:"gte=0,lte=50"`
}

type RemediationConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir"`
	BackupDir    string `mapstructure:"backup_dir" yaml:"backup_dir"`
}

type ComplianceConfig struct {
	ProfilesDir string `mapstructure:"profiles_dir" yaml:"profiles_dir"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// Config is the full application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Scan        ScanConfig        `mapstructure:"scan" yaml:"scan"`
	Normalize   NormalizeConfig   `mapstructure:"normalize" yaml:"normalize"`
	Discrepancy DiscrepancyConfig `mapstructure:"discrepancy" yaml:"discrepancy"`
	Remediation RemediationConfig `mapstructure:"remediation" yaml:"remediation"`
	Compliance  ComplianceConfig  `mapstructure:"compliance" yaml:"compliance"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
}

// hostTools scan a host instead of a source tree and are opt-in.
var hostTools = map[string]bool{"nikto": true, "lynis": true, "nmap": true}

// GetConfigDir returns ~/.gosec-agg, creating it if needed.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".gosec-agg")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return configDir, nil
}

// GetConfigPath returns the default config file location.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	dir, err := GetConfigDir()
	if err != nil {
		dir = "."
	}

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "gosec-agg")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	// -- Scan --
	v.SetDefault("scan.workers", 0)
	v.SetDefault("scan.tool_timeout", wrappers.DefaultToolTimeout)
	for _, tool := range wrappers.KnownTools() {
		v.SetDefault("scan.tools."+tool+".enabled", !hostTools[tool])
	}

	v.SetDefault("normalize.block_size", 5)
	v.SetDefault("discrepancy.context_lines", 3)

	// -- Remediation --
	v.SetDefault("remediation.enabled", false)
	v.SetDefault("remediation.templates_dir", "")
	v.SetDefault("remediation.backup_dir", "")

	v.SetDefault("compliance.profiles_dir", "")
	v.SetDefault("store.path", filepath.Join(dir, "state.db"))
}

// LoadConfig reads path (or the default location when empty), applies
// GOSEC_AGG_* environment overrides and validates the result. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && (explicit || !isNotFound(err)) {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}
	return NewConfigFromViper(v)
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// NewConfigFromViper unmarshals and validates v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Scan.Tools == nil {
		cfg.Scan.Tools = make(map[string]ToolConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	for name, t := range c.Scan.Tools {
		if _, known := wrappers.DefaultToolSpec(name); !known && t.Enabled && (t.Binary == "" || len(t.Args) == 0) {
			return fmt.Errorf("scan.tools.%s: binary and args are required for a tool without a built-in invocation", name)
		}
	}
	return nil
}

// SaveConfig writes cfg as YAML to path (the default location when empty).
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnabledTools lists enabled tools, sorted.
func (s ScanConfig) EnabledTools() []string {
	var out []string
	for name, t := range s.Tools {
		if t.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ToolSpecs resolves the invocations for tools, or for every enabled tool
// when tools is empty.
func (s ScanConfig) ToolSpecs(tools []string) ([]wrappers.ToolSpec, error) {
	if len(tools) == 0 {
		tools = s.EnabledTools()
	}
	specs := make([]wrappers.ToolSpec, 0, len(tools))
	for _, name := range tools {
		name = strings.ToLower(strings.TrimSpace(name))
		override := s.Tools[name]
		spec, ok := wrappers.DefaultToolSpec(name)
		if !ok {
			if override.Binary == "" {
				return nil, fmt.Errorf("unknown tool %q", name)
			}
			spec = wrappers.ToolSpec{Name: name}
		}
		spec = spec.Merge(wrappers.ToolSpec{
			Binary:         override.Binary,
			Args:           override.Args,
			ReportFromFile: override.ReportFromFile,
			OKExitCodes:    override.OKExitCodes,
		})
		specs = append(specs, spec)
	}
	return specs, nil
}

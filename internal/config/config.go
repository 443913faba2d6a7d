package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"falconeye/internal/models"
)

// Trigger policies for alert evaluation.
const (
	PolicySustained = "sustained"
	PolicyAverage   = "average"
)

// Config is the full resolved configuration: tunables plus the server
// target list. The rest of the program never parses raw config sources.
type Config struct {
	DBPath             string         `mapstructure:"db_path"`
	CollectionInterval time.Duration  `mapstructure:"collection_interval"`
	SSHTimeout         time.Duration  `mapstructure:"ssh_timeout"`
	AlertCooldown      time.Duration  `mapstructure:"alert_cooldown"`
	CoverageFraction   float64        `mapstructure:"coverage_fraction"`
	RetentionCap       int            `mapstructure:"retention_cap"`
	TriggerPolicy      string         `mapstructure:"trigger_policy"`
	SMTP               SMTPConfig     `mapstructure:"smtp"`
	Servers            []ServerConfig `mapstructure:"servers"`
}

// SMTPConfig configures the email notifier. Empty Host or From degrades
// notification to logging.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	UseSSL   bool   `mapstructure:"use_ssl"`
}

// ServerConfig is one target entry as written in the config file.
type ServerConfig struct {
	Name          string `mapstructure:"name"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	KeyPath       string `mapstructure:"key_path"`
	KeyPassphrase string `mapstructure:"key_passphrase"`
	JumpRef       string `mapstructure:"jump_ref"`
	DiskPath      string `mapstructure:"disk_path"`
	IsLocal       bool   `mapstructure:"is_local"`
}

// Load reads the YAML config at path and applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", filepath.Join("data", "falconeye.db"))
	v.SetDefault("collection_interval", time.Minute)
	v.SetDefault("ssh_timeout", 25*time.Second)
	v.SetDefault("alert_cooldown", 30*time.Minute)
	v.SetDefault("coverage_fraction", 0.8)
	v.SetDefault("retention_cap", 1440)
	v.SetDefault("trigger_policy", PolicySustained)
	v.SetDefault("smtp.port", 587)
}

func (c *Config) validate() error {
	if c.CollectionInterval <= 0 {
		return fmt.Errorf("collection_interval must be positive, got %s", c.CollectionInterval)
	}
	if c.SSHTimeout <= 0 {
		return fmt.Errorf("ssh_timeout must be positive, got %s", c.SSHTimeout)
	}
	if c.CoverageFraction <= 0 || c.CoverageFraction > 1 {
		return fmt.Errorf("coverage_fraction must be in (0, 1], got %v", c.CoverageFraction)
	}
	if c.RetentionCap < 1 {
		return fmt.Errorf("retention_cap must be at least 1, got %d", c.RetentionCap)
	}
	switch c.TriggerPolicy {
	case PolicySustained, PolicyAverage:
	default:
		return fmt.Errorf("trigger_policy must be %q or %q, got %q", PolicySustained, PolicyAverage, c.TriggerPolicy)
	}
	return nil
}

// BuildRegistry validates the configured servers and resolves them into a
// registry snapshot. Duplicate names are rejected outright, including a
// remote target named "local", which would collide with the implicit
// local-host probe.
func (c *Config) BuildRegistry() (*models.Registry, error) {
	targets := make([]models.ServerTarget, 0, len(c.Servers))
	seen := make(map[string]struct{}, len(c.Servers))

	for i, s := range c.Servers {
		t := models.ServerTarget{
			Name:          strings.TrimSpace(s.Name),
			Host:          strings.TrimSpace(s.Host),
			Port:          s.Port,
			User:          s.User,
			Password:      s.Password,
			KeyPath:       expandHome(s.KeyPath),
			KeyPassphrase: s.KeyPassphrase,
			JumpRef:       strings.TrimSpace(s.JumpRef),
			DiskPath:      s.DiskPath,
			IsLocal:       s.IsLocal,
		}
		if t.Name == "" {
			t.Name = t.Host
		}
		if t.Name == "" {
			return nil, fmt.Errorf("server entry %d has neither name nor host", i+1)
		}
		if !t.IsLocal && t.Host == "" {
			return nil, fmt.Errorf("server %q has no host", t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("duplicate server name %q", t.Name)
		}
		if t.Name == models.LocalServerName && !t.IsLocal {
			return nil, fmt.Errorf("server name %q is reserved for the local host probe", models.LocalServerName)
		}
		// The local probe persists under the canonical name; an is_local
		// entry under any other name would collect no samples.
		if t.IsLocal && t.Name != models.LocalServerName {
			return nil, fmt.Errorf("local server entry must be named %q, got %q", models.LocalServerName, t.Name)
		}
		seen[t.Name] = struct{}{}

		applySSHConfigDefaults(&t)
		if t.Port == 0 {
			t.Port = 22
		}
		targets = append(targets, t)
	}

	for _, t := range targets {
		if t.JumpRef == "" {
			continue
		}
		if t.JumpRef == t.Name {
			return nil, fmt.Errorf("server %q references itself as jump host", t.Name)
		}
		if _, ok := seen[t.JumpRef]; !ok {
			return nil, fmt.Errorf("server %q references unknown jump host %q", t.Name, t.JumpRef)
		}
	}

	return models.NewRegistry(targets), nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

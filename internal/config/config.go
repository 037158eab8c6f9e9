// Package config loads the starter's TOML configuration. Every key has a
// default, so an empty file (or none, for the CLI subcommands that take
// flags) is a valid configuration. Environment variables with the MCSTARTER_
// prefix override file values.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tangerine2001/minecraft-server-starter/internal/backup"
	"github.com/Tangerine2001/minecraft-server-starter/internal/logger"
	"github.com/Tangerine2001/minecraft-server-starter/internal/supervisor"
)

// Config is the top-level TOML structure.
type Config struct {
	BaseDir    string `toml:"base_dir" mapstructure:"base_dir"`
	WorldsDir  string `toml:"worlds_dir" mapstructure:"worlds_dir"`
	ServerDir  string `toml:"server_dir" mapstructure:"server_dir"`
	StateDir   string `toml:"state_dir" mapstructure:"state_dir"`
	BackupsDir string `toml:"backups_dir" mapstructure:"backups_dir"`

	JavaBin string `toml:"java_bin" mapstructure:"java_bin"`
	Memory  string `toml:"memory" mapstructure:"memory"`
	Port    int    `toml:"port" mapstructure:"port"`

	Listen     string `toml:"listen" mapstructure:"listen"`
	HistoryDSN string `toml:"history_dsn" mapstructure:"history_dsn"`
	LogLevel   string `toml:"log_level" mapstructure:"log_level"`
	LogColor   bool   `toml:"log_color" mapstructure:"log_color"`

	Backup     BackupConfig  `toml:"backup" mapstructure:"backup"`
	ConsoleLog logger.Config `toml:"console_log" mapstructure:"console_log"`
}

type BackupConfig struct {
	Interval        string        `toml:"interval" mapstructure:"interval"`
	Retention       int           `toml:"retention" mapstructure:"retention"`
	IntervalEnabled bool          `toml:"interval_enabled" mapstructure:"interval_enabled"`
	ShutdownEnabled bool          `toml:"shutdown_enabled" mapstructure:"shutdown_enabled"`
	CheckEvery      time.Duration `toml:"check_every" mapstructure:"check_every"`
}

// Default returns the configuration used when no file is given: everything
// under ./data, interval and shutdown backups on.
func Default() Config {
	c := Config{
		BaseDir:  "data",
		JavaBin:  supervisor.DefaultJavaBin,
		Memory:   supervisor.DefaultMemory,
		Port:     supervisor.DefaultPort,
		Listen:   ":8080",
		LogLevel: "info",
		LogColor: true,
		Backup: BackupConfig{
			Interval:        "24h",
			Retention:       backup.DefaultRetention,
			IntervalEnabled: true,
			ShutdownEnabled: true,
		},
	}
	c.applyDirDefaults()
	return c
}

func (c *Config) applyDirDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "data"
	}
	if c.WorldsDir == "" {
		c.WorldsDir = filepath.Join(c.BaseDir, "worlds")
	}
	if c.ServerDir == "" {
		c.ServerDir = filepath.Join(c.BaseDir, "server")
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.BaseDir, "state")
	}
	if c.BackupsDir == "" {
		c.BackupsDir = filepath.Join(c.BaseDir, "backups")
	}
	if c.ConsoleLog.Dir == "" {
		c.ConsoleLog.Dir = filepath.Join(c.BaseDir, "console")
	}
}

// Load reads TOML from path, layering file values over defaults and
// environment variables (MCSTARTER_*, dots and dashes as underscores) over
// both. An empty path yields Default().
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("MCSTARTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("base_dir", d.BaseDir)
	v.SetDefault("java_bin", d.JavaBin)
	v.SetDefault("memory", d.Memory)
	v.SetDefault("port", d.Port)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_color", d.LogColor)
	v.SetDefault("backup.interval", d.Backup.Interval)
	v.SetDefault("backup.retention", d.Backup.Retention)
	v.SetDefault("backup.interval_enabled", d.Backup.IntervalEnabled)
	v.SetDefault("backup.shutdown_enabled", d.Backup.ShutdownEnabled)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.applyDirDefaults()
	if c.Port < 1 || c.Port > 65535 {
		return Config{}, fmt.Errorf("config %s: port %d out of range", path, c.Port)
	}
	return c, nil
}

// SupervisorConfig derives the supervisor's launch parameters.
func (c Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		WorldsDir:  c.WorldsDir,
		ServerDir:  c.ServerDir,
		JavaBin:    c.JavaBin,
		Memory:     c.Memory,
		Port:       c.Port,
		ConsoleLog: c.ConsoleLog,
	}
}

// BackupSchedulerConfig derives the backup scheduler's configuration.
func (c Config) BackupSchedulerConfig() backup.Config {
	return backup.Config{
		WorldsDir:       c.WorldsDir,
		BackupsDir:      c.BackupsDir,
		StateDir:        c.StateDir,
		Interval:        c.Backup.Interval,
		Retention:       c.Backup.Retention,
		IntervalEnabled: c.Backup.IntervalEnabled,
		ShutdownEnabled: c.Backup.ShutdownEnabled,
		CheckEvery:      c.Backup.CheckEvery,
	}
}

// Package config loads kvlens settings from a YAML file, KVLENS_* environment
// variables and command flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Backends for connections.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Queue backends.
const (
	QueueTimer    = "timer"
	QueueNATS     = "nats"
	QueueDynamoDB = "dynamodb"
)

// Config is the complete kvlens configuration.
type Config struct {
	Log         Log          `mapstructure:"log" yaml:"log"`
	Session     string       `mapstructure:"session" yaml:"session"`
	Executor    string       `mapstructure:"executor" yaml:"executor"`
	System      string       `mapstructure:"system" yaml:"system"`
	AWS         AWS          `mapstructure:"aws" yaml:"aws"`
	Connections []Connection `mapstructure:"connections" yaml:"connections"`
	Queue       Queue        `mapstructure:"queue" yaml:"queue"`
	Jobs        Jobs         `mapstructure:"jobs" yaml:"jobs"`
}

// Log configures the process logger.
type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// AWS configures the SDK clients shared by DynamoDB connections and queues.
type AWS struct {
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// Connection describes one store.
type Connection struct {
	ID      string `mapstructure:"id" yaml:"id"`
	Name    string `mapstructure:"name" yaml:"name"`
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Path is the database file of a sqlite connection.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// Table and Namespace select the rows of a dynamodb connection.
	Table     string `mapstructure:"table" yaml:"table,omitempty"`
	Namespace string `mapstructure:"namespace" yaml:"namespace,omitempty"`
}

// Location renders where the connection's data lives.
func (c Connection) Location() string {
	switch c.Backend {
	case BackendSQLite:
		return c.Path
	case BackendDynamoDB:
		return c.Table + "/" + c.Namespace
	}
	return c.Backend
}

// Queue selects how deferred cleanup is delivered.
type Queue struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url,omitempty"`
	Table   string `mapstructure:"table" yaml:"table,omitempty"`
}

// Jobs tunes the bulk job engine.
type Jobs struct {
	BatchSize   int    `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	TempDir     string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:      Log{Level: "info"},
		Session:  "cli",
		Executor: currentUser(),
		System:   "local",
		AWS:      AWS{Region: "us-east-1"},
		Connections: []Connection{
			{ID: "local", Name: "Local", Backend: BackendSQLite, Path: "kvlens.db"},
		},
		Queue: Queue{Backend: QueueTimer, NATSURL: "nats://127.0.0.1:4222", Table: "kvlens_queue"},
		Jobs:  Jobs{BatchSize: 100, Concurrency: 8},
	}
}

// Defaults returns Default as viper keys.
func Defaults() map[string]any {
	d := Default()
	return map[string]any{
		"log.level":        d.Log.Level,
		"log.json":         d.Log.JSON,
		"session":          d.Session,
		"executor":         d.Executor,
		"system":           d.System,
		"aws.region":       d.AWS.Region,
		"aws.endpoint":     d.AWS.Endpoint,
		"connections":      d.Connections,
		"queue.backend":    d.Queue.Backend,
		"queue.nats_url":   d.Queue.NATSURL,
		"queue.table":      d.Queue.Table,
		"jobs.batch_size":  d.Jobs.BatchSize,
		"jobs.concurrency": d.Jobs.Concurrency,
		"jobs.temp_dir":    d.Jobs.TempDir,
	}
}

// Load reads kvlens.yaml from path (when set), the user config directory or
// the working directory, then applies KVLENS_* variables and cmd's flags.
// A missing file is not an error.
func Load(cmd *cobra.Command, path string) (Config, error) {
	var c Config
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName("kvlens")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "kvlens"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("kvlens")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, c.Validate()
}

// Validate checks that connections are unique and complete.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Connections))
	for _, conn := range c.Connections {
		if conn.ID == "" {
			return errors.New("kvlens: connection without id")
		}
		if seen[conn.ID] {
			return fmt.Errorf("kvlens: duplicate connection %q", conn.ID)
		}
		seen[conn.ID] = true

		switch conn.Backend {
		case BackendMemory:
		case BackendSQLite:
			if conn.Path == "" {
				return fmt.Errorf("kvlens: sqlite connection %q needs a path", conn.ID)
			}
		case BackendDynamoDB:
		default:
			return fmt.Errorf("kvlens: connection %q has unknown backend %q", conn.ID, conn.Backend)
		}
	}
	if !seen[c.System] {
		return fmt.Errorf("kvlens: system connection %q is not configured", c.System)
	}

	switch c.Queue.Backend {
	case QueueTimer, QueueNATS, QueueDynamoDB:
	default:
		return fmt.Errorf("kvlens: unknown queue backend %q", c.Queue.Backend)
	}
	return nil
}

// WriteFile writes c as YAML to path, creating its directory.
func WriteFile(c Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func currentUser() string {
	for _, name := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(name); u != "" {
			return u
		}
	}
	return "unknown"
}

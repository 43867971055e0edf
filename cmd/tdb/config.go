package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/tobsdb/tdb/internal/conn"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             int           `yaml:"port"`
	Adapter          string        `yaml:"adapter"`
	DataPath         string        `yaml:"data_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	LogLevel         string        `yaml:"log_level"`
	MaxConnections   int           `yaml:"max_connections"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
}

func DefaultConfig() Config {
	cwd, _ := os.Getwd()
	return Config{
		Port:             7085,
		Adapter:          conn.AdapterMemory,
		DataPath:         cwd + "/db.tdb",
		SnapshotInterval: time.Second,
		LogLevel:         "error",
		MaxConnections:   1024,
		Username:         os.Getenv("TDB_USER"),
		Password:         os.Getenv("TDB_PASS"),
	}
}

// LoadConfig overlays the yaml file at file_path on cfg. Keys missing from
// the file keep their value.
func LoadConfig(cfg Config, file_path string) (Config, error) {
	data, err := os.ReadFile(file_path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", file_path)
	}
	return cfg, nil
}

func (c Config) Settings() conn.Settings {
	return conn.Settings{
		Adapter:          c.Adapter,
		DataPath:         c.DataPath,
		SnapshotInterval: c.SnapshotInterval,
		MaxConnections:   c.MaxConnections,
	}
}

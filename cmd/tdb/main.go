package main

import (
	"flag"
	"time"

	"github.com/tobsdb/tdb/internal/conn"
	"github.com/tobsdb/tdb/pkg"
)

func main() {
	cfg := DefaultConfig()

	config_path := flag.String("config", "", "path to a yaml config file")
	db_write_path := flag.String("db", cfg.DataPath, "path to save db data")
	in_mem := flag.Bool("m", false, "don't persist db")
	port := flag.Int("port", cfg.Port, "listening port")
	adapter := flag.String("adapter", cfg.Adapter, "storage adapter: memory or sqlite")
	write_interval := flag.Int("w", int(cfg.SnapshotInterval/time.Millisecond), "snapshot interval in milliseconds")
	log_level := flag.String("log", cfg.LogLevel, "log level: none, error or debug")
	max_conns := flag.Int("max-conns", cfg.MaxConnections, "max open connections")

	flag.Parse()

	if *config_path != "" {
		var err error
		cfg, err = LoadConfig(cfg, *config_path)
		if err != nil {
			pkg.FatalLog(err)
		}
	}

	// explicit flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DataPath = *db_write_path
		case "port":
			cfg.Port = *port
		case "adapter":
			cfg.Adapter = *adapter
		case "w":
			cfg.SnapshotInterval = time.Duration(*write_interval) * time.Millisecond
		case "log":
			cfg.LogLevel = *log_level
		case "max-conns":
			cfg.MaxConnections = *max_conns
		}
	})
	if *in_mem {
		cfg.DataPath = ""
	}

	pkg.SetLogLevel(pkg.ParseLogLevel(cfg.LogLevel))
	defer pkg.SyncLogs()

	db, err := conn.NewTobsDB(conn.AuthSettings{Username: cfg.Username, Password: cfg.Password}, cfg.Settings())
	if err != nil {
		pkg.FatalLog(err)
	}
	db.Listen(cfg.Port)
}

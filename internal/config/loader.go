package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pattersonrw/menuvault/internal/db"
)

// Config carries everything the daemon needs to wire itself up.
type Config struct {
	DB                db.Config
	ServerAddr        string
	MigrationsPath    string
	LogLevel          string
	TriggerThreshold  int
	TriggerBulkLimit  int
	SchedulerInterval time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:                db.DefaultConfig(),
		ServerAddr:        ":8080",
		MigrationsPath:    "./migrations",
		LogLevel:          "info",
		TriggerThreshold:  10,
		TriggerBulkLimit:  5,
		SchedulerInterval: time.Minute,
	}
}

// Load reads config.yaml from configPath when present and applies
// MENUVAULT_-prefixed environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("MENUVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("log.level")

	// Config file is optional; defaults plus env vars are enough to run.
	_ = v.ReadInConfig()

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.DB.MaxConns = v.GetInt32("database.max_conns")
	}
	if v.IsSet("server.addr") {
		cfg.ServerAddr = v.GetString("server.addr")
	}
	if v.IsSet("migrations.path") {
		cfg.MigrationsPath = v.GetString("migrations.path")
	}
	if v.IsSet("log.level") {
		cfg.LogLevel = v.GetString("log.level")
	}
	if v.IsSet("trigger.threshold") {
		cfg.TriggerThreshold = v.GetInt("trigger.threshold")
	}
	if v.IsSet("trigger.bulk_limit") {
		cfg.TriggerBulkLimit = v.GetInt("trigger.bulk_limit")
	}
	if v.IsSet("scheduler.interval") {
		cfg.SchedulerInterval = v.GetDuration("scheduler.interval")
	}

	return cfg, nil
}

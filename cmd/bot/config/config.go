// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/dataaccess/connection"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName is the name of the application.
	AppName = "warden"

	// EnvBotToken is the environment variable for the bot token.
	EnvBotToken = `BOT_TOKEN`

	// EnvApplicationId is the environment variable for the application ID.
	EnvApplicationId = `APPLICATION_ID`

	// EnvMongoUri is the environment variable for the MongoDB URI.
	EnvMongoUri = `MONGO_URI`

	// EnvMongoDatabase is the environment variable for the MongoDB database name.
	EnvMongoDatabase = `MONGO_DATABASE`

	// EnvMonitoringPort is the environment variable for the monitoring port.
	EnvMonitoringPort = `MONITORING_PORT`

	// EnvDatabaseDriver is the environment variable for the storage backend: sqlite, pgx or mongo.
	EnvDatabaseDriver = `DATABASE_DRIVER`

	// EnvDatabaseDSN is the environment variable for the SQL data source name.
	EnvDatabaseDSN = `DATABASE_DSN`

	// EnvTicketSweepInterval is the environment variable for the ticket expiry interval.
	EnvTicketSweepInterval = `TICKET_SWEEP_INTERVAL`

	// EnvSanctionSweepInterval is the environment variable for the sanction expiry interval.
	EnvSanctionSweepInterval = `SANCTION_SWEEP_INTERVAL`

	// EnvPolicyFile is the environment variable for the YAML tier policy file.
	EnvPolicyFile = `POLICY_FILE`

	// EnvDryRun is the environment variable that turns platform actions into log lines.
	EnvDryRun = `DRY_RUN`

	// EnvMaxTicketDays is the environment variable for the absence ticket length cap.
	EnvMaxTicketDays = `MAX_TICKET_DAYS`

	// EnvExecutorRate is the environment variable for the platform calls allowed per second.
	EnvExecutorRate = `EXECUTOR_RATE`

	// EnvExecutorMaxTries is the environment variable for the attempts per platform call.
	EnvExecutorMaxTries = `EXECUTOR_MAX_TRIES`

	// DriverMongo selects the MongoDB backend.
	DriverMongo = "mongo"

	defaultSQLiteDSN = "data/warden.db"
)

// Config is the configuration of the bot.
type Config struct {
	// BotToken is the token for the bot.
	BotToken string

	// ApplicationId is the ID of the application. Messages from it are never screened.
	ApplicationId string

	// MonitoringPort is the port for the monitoring and admin server.
	MonitoringPort string

	DatabaseDriver string
	DatabaseDSN    string
	MongoUri       string
	MongoDatabase  string

	TicketSweepInterval   time.Duration
	SanctionSweepInterval time.Duration

	// PolicyFile overrides the built in tiers when set.
	PolicyFile string

	// DryRun logs platform actions instead of performing them.
	DryRun bool

	MaxTicketDays int

	ExecutorRate     float64
	ExecutorMaxTries uint
}

// Load reads the configuration. A .env file in the working directory is loaded first when present.
func Load(l *slog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		l.Info(".env file not found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(EnvMonitoringPort, "8080")
	v.SetDefault(EnvDatabaseDriver, connection.DriverSQLite)
	v.SetDefault(EnvMongoDatabase, dataaccess.DefaultMongoDatabase)
	v.SetDefault(EnvTicketSweepInterval, time.Hour)
	v.SetDefault(EnvSanctionSweepInterval, time.Minute)
	v.SetDefault(EnvExecutorRate, 20)
	v.SetDefault(EnvExecutorMaxTries, 5)

	cfg := &Config{
		BotToken:              v.GetString(EnvBotToken),
		ApplicationId:         v.GetString(EnvApplicationId),
		MonitoringPort:        v.GetString(EnvMonitoringPort),
		DatabaseDriver:        v.GetString(EnvDatabaseDriver),
		DatabaseDSN:           v.GetString(EnvDatabaseDSN),
		MongoUri:              v.GetString(EnvMongoUri),
		MongoDatabase:         v.GetString(EnvMongoDatabase),
		TicketSweepInterval:   v.GetDuration(EnvTicketSweepInterval),
		SanctionSweepInterval: v.GetDuration(EnvSanctionSweepInterval),
		PolicyFile:            v.GetString(EnvPolicyFile),
		DryRun:                v.GetBool(EnvDryRun),
		MaxTicketDays:         v.GetInt(EnvMaxTicketDays),
		ExecutorRate:          v.GetFloat64(EnvExecutorRate),
		ExecutorMaxTries:      v.GetUint(EnvExecutorMaxTries),
	}

	if cfg.DatabaseDriver == connection.DriverSQLite && cfg.DatabaseDSN == "" {
		l.Info("No database DSN provided in environment, defaulting to "+defaultSQLiteDSN, slog.String("key", EnvDatabaseDSN))
		cfg.DatabaseDSN = defaultSQLiteDSN
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l.Debug("Configuration loaded",
		slog.String("database_driver", cfg.DatabaseDriver),
		slog.Bool("dry_run", cfg.DryRun),
		slog.String("policy_file", cfg.PolicyFile),
	)
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.BotToken == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvBotToken))
	}

	switch c.DatabaseDriver {
	case connection.DriverSQLite:
	case connection.DriverPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("%s is required for %s", EnvDatabaseDSN, c.DatabaseDriver))
		}
	case DriverMongo:
		if c.MongoUri == "" {
			errs = append(errs, fmt.Errorf("%s is required for %s", EnvMongoUri, c.DatabaseDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown %s %q", EnvDatabaseDriver, c.DatabaseDriver))
	}

	if c.TicketSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvTicketSweepInterval))
	}
	if c.SanctionSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvSanctionSweepInterval))
	}
	if c.MaxTicketDays < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", EnvMaxTicketDays))
	}
	if c.ExecutorRate <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvExecutorRate))
	}
	if c.ExecutorMaxTries == 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvExecutorMaxTries))
	}

	return errors.Join(errs...)
}

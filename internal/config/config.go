// Package config loads crudstore settings from defaults, an optional config
// file, CRUDSTORE_* environment variables and command line flags.
package config

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/crudstore/storage/document"
	"github.com/ministore/crudstore/crudstore/storage/mongo"
	"github.com/ministore/crudstore/crudstore/storage/postgres"
	"github.com/ministore/crudstore/crudstore/storage/sqlite"
	"github.com/ministore/crudstore/crudstore/storage/sqlstore"
)

const EnvPrefix = "CRUDSTORE"

type Config struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Models   string         `mapstructure:"models"`
	Log      LogConfig      `mapstructure:"log"`
	Actor    string         `mapstructure:"actor"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
	// Driver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo).
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	DSN    string `mapstructure:"dsn"`
	Schema string `mapstructure:"schema"`
}

type MongoConfig struct {
	URI          string        `mapstructure:"uri"`
	Database     string        `mapstructure:"database"`
	Transactions bool          `mapstructure:"transactions"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers every key so that environment variables are seen by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend", string(storage.BackendSQLite))
	v.SetDefault("sqlite.path", "crudstore.db")
	v.SetDefault("sqlite.driver", "sqlite")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.schema", "crudstore")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "crudstore")
	v.SetDefault("mongo.transactions", false)
	v.SetDefault("mongo.timeout", 10*time.Second)
	v.SetDefault("models", "models.yaml")
	v.SetDefault("log.level", "warn")
	v.SetDefault("actor", "")
}

// New returns a viper instance wired to defaults and the environment.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads file (when not empty) into v and returns the merged config.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch storage.Backend(c.Backend) {
	case storage.BackendSQLite:
		if c.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
		if c.SQLite.Driver != "sqlite" && c.SQLite.Driver != "sqlite3" {
			return errors.Newf("sqlite.driver must be sqlite or sqlite3, got %q", c.SQLite.Driver)
		}
	case storage.BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
	case storage.BackendMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongo.uri and mongo.database are required")
		}
	case storage.BackendMemory:
	default:
		return errors.WithHint(
			errors.Newf("unknown backend %q", c.Backend),
			"use sqlite, postgres, mongo or memory",
		)
	}
	return nil
}

// Logger builds a console logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log.level")
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// OpenStore connects to the configured backend.
func (c *Config) OpenStore(ctx context.Context, logger *zap.Logger) (storage.Store, error) {
	switch storage.Backend(c.Backend) {
	case storage.BackendSQLite:
		opts := sqlstore.DefaultOptions()
		opts.Logger = logger
		return sqlstore.Open(ctx, sqlite.NewWithDriver(c.SQLite.Path, c.SQLite.Driver), opts)
	case storage.BackendPostgres:
		opts := sqlstore.DefaultOptions()
		opts.Logger = logger
		return postgres.Open(ctx, c.Postgres.DSN, c.Postgres.Schema, opts)
	case storage.BackendMongo:
		opts := mongo.DefaultOptions()
		opts.Logger = logger
		opts.Transactions = c.Mongo.Transactions
		opts.Timeout = c.Mongo.Timeout
		return mongo.Open(ctx, c.Mongo.URI, c.Mongo.Database, opts)
	case storage.BackendMemory:
		return document.NewMemory(logger), nil
	}
	return nil, errors.Newf("unknown backend %q", c.Backend)
}

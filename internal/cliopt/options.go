package cliopt

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// GlobalOptions are parsed once at the CLI root and passed to subcommands.
//
// NOTE: This is a separate package to avoid import cycles between the root
// command router and per-command code.
type GlobalOptions struct {
	ConfigFile string
}

// flagKeys maps global flags to config keys.
var flagKeys = map[string]string{
	"backend":       "backend",
	"sqlite-path":   "sqlite.path",
	"sqlite-driver": "sqlite.driver",
	"pg-dsn":        "postgres.dsn",
	"pg-schema":     "postgres.schema",
	"mongo-uri":     "mongo.uri",
	"mongo-db":      "mongo.database",
	"models":        "models",
	"actor":         "actor",
	"log-level":     "log.level",
}

// BindGlobalFlags declares the global flags on fs and binds them to v so
// that a flag given on the command line overrides file and environment.
func BindGlobalFlags(fs *pflag.FlagSet, v *viper.Viper, g *GlobalOptions) error {
	fs.StringVar(&g.ConfigFile, "config", g.ConfigFile, "config file (yaml, toml or json)")

	fs.String("backend", "", "backend: sqlite|postgres|mongo|memory")
	fs.String("sqlite-path", "", "sqlite database file")
	fs.String("sqlite-driver", "", "sqlite driver: sqlite (pure Go) or sqlite3 (cgo)")
	fs.String("pg-dsn", "", "postgres DSN")
	fs.String("pg-schema", "", "postgres schema")
	fs.String("mongo-uri", "", "mongo connection URI")
	fs.String("mongo-db", "", "mongo database")
	fs.String("models", "", "model definitions (yaml)")
	fs.String("actor", "", "identity recorded in audit rows")
	fs.String("log-level", "", "debug|info|warn|error")

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

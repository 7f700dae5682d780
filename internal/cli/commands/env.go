package commands

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ministore/crudstore/crudstore"
	"github.com/ministore/crudstore/crudstore/storage"
	"github.com/ministore/crudstore/internal/cliopt"
	"github.com/ministore/crudstore/internal/cliutil"
	"github.com/ministore/crudstore/internal/config"
)

// Env is shared by every command.
type Env struct {
	Viper  *viper.Viper
	Global *cliopt.GlobalOptions
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
}

// Session is an opened store with every configured model bound to it.
type Session struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    storage.Store
	Registry *crudstore.Registry
}

func (s *Session) Close() error {
	_ = s.Logger.Sync()
	return s.Store.Close()
}

// Open loads the configuration, connects and binds the models.
func (e *Env) Open(ctx context.Context) (*Session, error) {
	cfg, err := config.Load(e.Viper, e.Global.ConfigFile)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	models, err := crudstore.LoadModels(cfg.Models)
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		return nil, err
	}

	base := crudstore.DefaultOptions()
	base.Logger = logger
	base.Actor = cfg.Actor
	reg := crudstore.NewRegistry()
	for _, m := range models {
		if _, err := reg.Bind(ctx, store, m.Schema, m.Options(base)); err != nil {
			_ = store.Close()
			return nil, errors.Wrapf(err, "bind model %s", m.Schema.Name())
		}
	}
	logger.Debug("session opened", zap.String("backend", cfg.Backend), zap.Strings("models", reg.Names()))
	return &Session{Config: cfg, Logger: logger, Store: store, Registry: reg}, nil
}

// withController opens a session and runs fn against the named model.
func (e *Env) withController(cmd *cobra.Command, model string, fn func(ctx context.Context, c *crudstore.Controller) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := e.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.Registry.Controller(model)
	if err != nil {
		return err
	}
	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return cliutil.PrintJSON(e.Out, out)
}

// modelAndPairs splits "<model> field=value..." arguments.
func modelAndPairs(args []string) (string, map[string]any, error) {
	if len(args) == 0 {
		return "", nil, errors.New("missing model name")
	}
	pairs, err := cliutil.ParsePairs(args[1:])
	if err != nil {
		return "", nil, err
	}
	return args[0], pairs, nil
}

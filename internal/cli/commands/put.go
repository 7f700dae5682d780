package commands

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ministore/crudstore/crudstore"
	"github.com/ministore/crudstore/internal/cliutil"
)

// payloads returns the field=value record from args, or the JSON lines read
// from stdin when jsonStdin is set.
func (e *Env) payloads(args []string, jsonStdin bool) ([]map[string]any, error) {
	if jsonStdin {
		if len(args) > 1 {
			return nil, errors.New("field=value arguments cannot be combined with --json")
		}
		return cliutil.ReadJSONLines(e.In)
	}
	_, rec, err := modelAndPairs(args)
	if err != nil {
		return nil, err
	}
	return []map[string]any{rec}, nil
}

func NewPostCommand(env *Env) *cobra.Command {
	var jsonStdin bool
	cmd := &cobra.Command{
		Use:   "post <model> [field=value ...]",
		Short: "Insert records",
		Long: `Insert one record given as field=value pairs, or every JSON line read
from stdin with --json. A batch is inserted in a single commit.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := env.payloads(args, jsonStdin)
			if err != nil {
				return err
			}
			return env.withController(cmd, args[0], func(ctx context.Context, c *crudstore.Controller) (any, error) {
				if !jsonStdin {
					return c.Post(ctx, recs[0])
				}
				return c.PostMany(ctx, recs)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonStdin, "json", false, "read JSON lines from stdin")
	return cmd
}

func NewPutCommand(env *Env) *cobra.Command {
	var jsonStdin bool
	cmd := &cobra.Command{
		Use:   "put <model> [field=value ...]",
		Short: "Update records identified by their primary key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := env.payloads(args, jsonStdin)
			if err != nil {
				return err
			}
			return env.withController(cmd, args[0], func(ctx context.Context, c *crudstore.Controller) (any, error) {
				olds, news, err := c.PutMany(ctx, recs)
				if err != nil {
					return nil, err
				}
				return map[string]any{"previous": olds, "updated": news}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonStdin, "json", false, "read JSON lines from stdin")
	return cmd
}

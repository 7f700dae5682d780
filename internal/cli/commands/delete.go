package commands

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ministore/crudstore/crudstore"
)

var errEmptyDelete = errors.WithHint(
	errors.New("refusing to delete every record"),
	"pass a filter or --all",
)

func NewDeleteCommand(env *Env) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "delete <model> [field=value ...]",
		Short: "Delete records matching a filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, filter, err := modelAndPairs(args)
			if err != nil {
				return err
			}
			if len(filter) == 0 && !all {
				return errEmptyDelete
			}
			return env.withController(cmd, model, func(ctx context.Context, c *crudstore.Controller) (any, error) {
				n, err := c.Delete(ctx, filter)
				if err != nil {
					return nil, err
				}
				return map[string]int64{"deleted": n}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "allow deleting every record")
	return cmd
}

func NewRollbackCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <model> revision=<n> [field=value ...]",
		Short: "Restore records to the state they had at a revision",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, filter, err := modelAndPairs(args)
			if err != nil {
				return err
			}
			return env.withController(cmd, model, func(ctx context.Context, c *crudstore.Controller) (any, error) {
				n, err := c.RollbackTo(ctx, filter)
				if err != nil {
					return nil, err
				}
				return map[string]int64{"affected": n}, nil
			})
		},
	}
}

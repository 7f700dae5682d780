package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ministore/crudstore/crudstore"
)

func NewGetCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <model> [field=value ...]",
		Short: "List records matching a filter",
		Long: `List records matching a filter.

Repeat a field to match any of several values. Reserved keys order_by,
limit and offset shape the result.

Examples:
  crudstore get sample key=a key=b
  crudstore get sample "mandatory=>=3" order_by="key desc" limit=10`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, filter, err := modelAndPairs(args)
			if err != nil {
				return err
			}
			return env.withController(cmd, model, func(ctx context.Context, c *crudstore.Controller) (any, error) {
				return c.Get(ctx, filter)
			})
		},
	}
}

func NewGetOneCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "get-one <model> [field=value ...]",
		Short: "Show the single record matching a filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, filter, err := modelAndPairs(args)
			if err != nil {
				return err
			}
			return env.withController(cmd, model, func(ctx context.Context, c *crudstore.Controller) (any, error) {
				return c.GetOne(ctx, filter)
			})
		},
	}
}

func NewGetLastCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "get-last <model> [field=value ...]",
		Short: "Show the current or most recent version of a record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, filter, err := modelAndPairs(args)
			if err != nil {
				return err
			}
			return env.withController(cmd, model, func(ctx context.Context, c *crudstore.Controller) (any, error) {
				return c.GetLast(ctx, filter)
			})
		},
	}
}

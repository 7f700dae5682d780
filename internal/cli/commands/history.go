package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ministore/crudstore/crudstore"
)

func NewAuditCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <model> [field=value ...]",
		Short: "Query the audit trail of a model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, filter, err := modelAndPairs(args)
			if err != nil {
				return err
			}
			return env.withController(cmd, model, func(ctx context.Context, c *crudstore.Controller) (any, error) {
				return c.GetAudit(ctx, filter)
			})
		},
	}
}

func NewHistoryCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "history <model> [field=value ...]",
		Short: "List every version of matching records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, filter, err := modelAndPairs(args)
			if err != nil {
				return err
			}
			return env.withController(cmd, model, func(ctx context.Context, c *crudstore.Controller) (any, error) {
				return c.GetHistory(ctx, filter)
			})
		},
	}
}

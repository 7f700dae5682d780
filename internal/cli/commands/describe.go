package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ministore/crudstore/crudstore"
	"github.com/ministore/crudstore/internal/cliutil"
)

func NewDescribeCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "describe [model]",
		Short: "Describe one model, or every configured model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return env.withController(cmd, args[0], func(_ context.Context, c *crudstore.Controller) (any, error) {
					return c.Describe(), nil
				})
			}
			s, err := env.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return cliutil.PrintJSON(env.Out, s.Registry.Describe())
		},
	}
}

func NewFieldsCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "fields <model>",
		Short: "List field names in declaration order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withController(cmd, args[0], func(_ context.Context, c *crudstore.Controller) (any, error) {
				return c.FieldNames(), nil
			})
		},
	}
}

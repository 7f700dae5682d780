package commands

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ministore/crudstore/internal/cliutil"
)

var errUnhealthy = errors.New("backend unhealthy")

func NewHealthCommand(env *Env) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			s, err := env.Open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			h := s.Store.Health(ctx)
			if err := cliutil.PrintJSON(env.Out, h); err != nil {
				return err
			}
			if !h.OK() {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "health check timeout")
	return cmd
}

package commands

import (
	"github.com/spf13/cobra"
)

func NewDumpCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <dir>",
		Short: "Write every model collection to dir, one extended JSON file per collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Registry.Dump(cmd.Context(), args[0])
		},
	}
}

func NewRestoreCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <dir>",
		Short: "Replace model collections with the files written by dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.Open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Registry.Restore(cmd.Context(), args[0])
		},
	}
}

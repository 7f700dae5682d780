package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ministore/crudstore/internal/cli/commands"
	"github.com/ministore/crudstore/internal/cliopt"
	"github.com/ministore/crudstore/internal/config"
)

// NewRootCommand builds the command tree around env.
func NewRootCommand(env *commands.Env) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "crudstore",
		Short:         "Validated CRUD access to relational and document stores",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(env.In)
	root.SetOut(env.Out)
	root.SetErr(env.Err)
	if err := cliopt.BindGlobalFlags(root.PersistentFlags(), env.Viper, env.Global); err != nil {
		return nil, err
	}

	root.AddCommand(
		commands.NewGetCommand(env),
		commands.NewGetOneCommand(env),
		commands.NewGetLastCommand(env),
		commands.NewPostCommand(env),
		commands.NewPutCommand(env),
		commands.NewDeleteCommand(env),
		commands.NewDescribeCommand(env),
		commands.NewFieldsCommand(env),
		commands.NewAuditCommand(env),
		commands.NewHistoryCommand(env),
		commands.NewRollbackCommand(env),
		commands.NewHealthCommand(env),
		commands.NewDumpCommand(env),
		commands.NewRestoreCommand(env),
	)
	return root, nil
}

// Execute runs the CLI and returns an exit code.
func Execute(argv []string) int {
	return Run(context.Background(), argv, os.Stdin, os.Stdout, os.Stderr)
}

// Run is Execute with explicit streams.
func Run(ctx context.Context, argv []string, in io.Reader, out, errOut io.Writer) int {
	env := &commands.Env{
		Viper:  config.New(),
		Global: &cliopt.GlobalOptions{},
		In:     in,
		Out:    out,
		Err:    errOut,
	}
	root, err := NewRootCommand(env)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	root.SetArgs(argv)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the personal key pair",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create and register the personal key pair of the first device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}
				if _, err := a.keys.CreatePersonalKeys(ctx); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Personal key pair created.")
				return nil
			})
		},
	})

	return cmd
}

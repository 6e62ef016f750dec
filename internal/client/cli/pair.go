package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPairCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Move the personal key pair to another device",
		Long: `Pairing moves the personal key pair from a device that has it (A) to a
new device (B) through the backend relay, which only sees ciphertext.

  A: chatkeeper pair init            prints a mnemonic and waits for B
  B: chatkeeper pair join <words...> imports the key pair

If A was interrupted after printing the mnemonic, resume it with
"chatkeeper pair transfer <words...>".`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Start pairing on the device that holds the keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}
				mnemonic, err := a.pairing.Initiate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Enter these words on the new device:\n\n  %s\n\nWaiting for the new device...\n", mnemonic)
				return transfer(ctx, a, mnemonic)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "transfer <words...>",
		Short: "Send the key pair for an already initiated pairing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}
				return transfer(ctx, a, strings.Join(args, " "))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "join <words...>",
		Short: "Import the key pair on a new device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}
				ps, err := a.pairing.BeginKnowledgeExchange(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Waiting for the other device...")
				if err := a.pairing.Download(ctx, ps); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Personal key pair imported.")
				return nil
			})
		},
	})

	return cmd
}

func transfer(ctx context.Context, a *App, mnemonic string) error {
	if err := a.pairing.Transfer(ctx, mnemonic); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Key pair sent.")
	return nil
}

package cli

import (
	"context"
	"os"

	"github.com/dmitrijs2005/chatkeeper/internal/client/config"
	"github.com/spf13/cobra"
)

// RootOptions carries the config flags shared by every command.
type RootOptions struct {
	flags *config.Flags
}

// NewRootCommand creates the chatkeeper command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "chatkeeper",
		Short:         "chatkeeper - end-to-end encrypted conversation client",
		Long:          "Keeps a local cache of encrypted conversations in sync and manages the keys that protect them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.flags = config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newSetupCommand(opts))
	cmd.AddCommand(newKeysCommand(opts))
	cmd.AddCommand(newPairCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newMessagesCommand(opts))

	return cmd
}

// withApp loads the config, builds an App for the duration of fn and
// closes it afterwards.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App) error) error {
	cfg, err := o.flags.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := NewApp(ctx, cfg, cmd.OutOrStdout(), os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

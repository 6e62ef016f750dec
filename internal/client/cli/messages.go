package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newMessagesCommand(opts *RootOptions) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Print the cached messages of a conversation",
		Long: `Recovers the conversation keys from the backend and prints the decrypted
messages of one conversation from the local cache. Run sync first to fill
the cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				if err := a.unlock(ctx); err != nil {
					return err
				}
				if _, err := a.keys.Recover(ctx); err != nil {
					return err
				}

				msgs, err := a.messages.List(ctx, args[0], offset, limit)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					text := m.Text
					if m.Deleted() {
						text = "(deleted)"
					}
					fmt.Fprintf(a.out, "%s  %-20s %s\n", m.CreatedAt.Local().Format(time.DateTime), m.UserID, text)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many messages")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "print at most this many messages, 0 for all")

	return cmd
}

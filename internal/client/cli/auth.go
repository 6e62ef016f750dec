package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/spf13/cobra"
)

// getPassword is swapped in tests.
var getPassword = GetPassword

var errPassphraseMismatch = errors.New("passphrases do not match")

// unlock asks for the passphrase and derives the account secret.
func (a *App) unlock(ctx context.Context) error {
	ok, err := a.auth.IsSetUp(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: run unlock-setup first", common.ErrPrecondition)
	}

	pw, err := getPassword(a.out, "Passphrase")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	return a.auth.Unlock(ctx, pw)
}

func newSetupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock-setup",
		Short: "Configure the passphrase protecting local secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App) error {
				pw, err := getPassword(a.out, "New passphrase")
				if err != nil {
					return err
				}
				defer common.WipeByteArray(pw)

				again, err := getPassword(a.out, "Repeat passphrase")
				if err != nil {
					return err
				}
				defer common.WipeByteArray(again)

				if !bytes.Equal(pw, again) {
					return errPassphraseMismatch
				}
				if err := a.auth.Setup(ctx, pw); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Passphrase configured.")
				return nil
			})
		},
	}
}

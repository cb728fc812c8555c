package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tooeysb/gmail-obsidian-integration/internal/credentials"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage connected mail accounts",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Connect a Gmail account",
	Long:  "Reads an OAuth token file (oauth2 token JSON or an authorized_user credentials file), encrypts it and stores it for the account.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		userID, _ := cmd.Flags().GetString("user")
		label, _ := cmd.Flags().GetString("label")
		email, _ := cmd.Flags().GetString("email")
		tokenFile, _ := cmd.Flags().GetString("token-file")

		if !model.AccountLabel(label).Valid() {
			return eris.Errorf("unknown account label %q (want one of %v)", label, model.DefaultScanOrder)
		}

		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return eris.Wrap(err, "read token file")
		}
		tok, err := credentials.ParseToken(data)
		if err != nil {
			return err
		}
		cipher, err := credentials.CipherFromBase64(cfg.Credentials.EncryptionKey)
		if err != nil {
			return err
		}
		blob, err := cipher.EncodeToken(tok)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetUser(ctx, userID); err != nil {
			return eris.Wrapf(err, "user %s", userID)
		}
		acct, err := st.UpsertAccount(ctx, model.Account{
			UserID:      userID,
			Label:       model.AccountLabel(label),
			Email:       email,
			Active:      true,
			Credentials: blob,
		})
		if err != nil {
			return eris.Wrap(err, "accounts add")
		}
		fmt.Fprintln(cmd.OutOrStdout(), acct.ID)
		return nil
	},
}

func init() {
	f := accountsAddCmd.Flags()
	f.String("user", "", "owning user id")
	f.String("label", "", "account label: personal, procore-private or procore-main")
	f.String("email", "", "mailbox address")
	f.String("token-file", "", "path to the OAuth token JSON")
	for _, name := range []string{"user", "label", "email", "token-file"} {
		_ = accountsAddCmd.MarkFlagRequired(name)
	}

	accountsCmd.AddCommand(accountsAddCmd)
	rootCmd.AddCommand(accountsCmd)
}

package job

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"

	"github.com/tooeysb/gmail-obsidian-integration/internal/credentials"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/google"
)

// CredentialStore persists refreshed account tokens.
type CredentialStore interface {
	UpdateAccountCredentials(ctx context.Context, accountID string, blob []byte) error
}

// NewClientFunc builds provider clients from each account's stored token.
// Refreshed tokens are sealed with cipher and written back to st.
func NewClientFunc(cipher *credentials.Cipher, oauth *oauth2.Config, st CredentialStore, opts ...google.Option) ClientFunc {
	return func(ctx context.Context, acct model.Account) (google.Client, error) {
		tok, err := cipher.DecodeToken(acct.Credentials)
		if err != nil {
			return nil, eris.Wrapf(ErrCredentials, "account %s: %v", acct.Label, err)
		}

		persist := func(ctx context.Context, blob []byte) error {
			return st.UpdateAccountCredentials(ctx, acct.ID, blob)
		}
		ts := cipher.TokenSource(ctx, oauth.TokenSource(ctx, tok), tok, persist)

		client, err := google.NewClient(ctx, ts, opts...)
		if err != nil {
			return nil, eris.Wrapf(err, "job: google client for %s", acct.Label)
		}
		return client, nil
	}
}

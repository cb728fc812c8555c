//go:build !integration

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/config"
	"github.com/tooeysb/gmail-obsidian-integration/internal/credentials"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/store"
)

// useSQLite points the global config at a fresh SQLite database.
func useSQLite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "test.db")},
		Vault: config.VaultConfig{Path: filepath.Join(dir, "vault")},
		RateLimit: config.RateLimitConfig{
			Backend:     "memory",
			Key:         "gmail",
			MaxTokens:   10,
			RefillRate:  5,
			WaitTimeout: time.Second,
		},
	}
	t.Cleanup(func() { cfg = prev })
	return dir
}

func execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	c.SetContext(context.Background())
	c.SetOut(&buf)
	t.Cleanup(func() { c.SetOut(nil) })
	err := c.RunE(c, args)
	return strings.TrimSpace(buf.String()), err
}

func TestInitStore_UnknownDriver(t *testing.T) {
	useSQLite(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitGate(t *testing.T) {
	useSQLite(t)
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	gate, err := initGate(st, cfg.RateLimit)
	require.NoError(t, err)
	assert.Equal(t, time.Second, gate.Timeout)
	require.NoError(t, gate.Wait(context.Background(), 1))

	rl := cfg.RateLimit
	rl.Backend = "postgres"
	_, err = initGate(st, rl)
	assert.Error(t, err)

	rl = cfg.RateLimit
	rl.MaxTokens = 0
	_, err = initGate(st, rl)
	assert.Error(t, err)
}

func TestFetchConfig(t *testing.T) {
	fc := fetchConfig(config.GmailConfig{
		PageSize:   100,
		FetchChunk: 25,
		PagePause:  time.Second,
		MaxRetries: 3,
	})
	assert.Equal(t, int64(100), fc.PageSize)
	assert.Equal(t, 25, fc.ChunkSize)
	assert.Equal(t, time.Second, fc.PagePause)
	assert.Equal(t, 3, fc.Retry.MaxAttempts)

	fc = fetchConfig(config.GmailConfig{})
	assert.Equal(t, int64(500), fc.PageSize)
	assert.Equal(t, 50, fc.ChunkSize)
}

func TestMigrateCommand(t *testing.T) {
	useSQLite(t)
	out, err := execute(t, migrateCmd)
	require.NoError(t, err)
	assert.Equal(t, "schema up to date", out)
}

func TestUsersAccountsJobsFlow(t *testing.T) {
	dir := useSQLite(t)
	ctx := context.Background()

	userID, err := execute(t, usersAddCmd, "me@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	tokenPath := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(tokenPath, []byte(`{"token":"access","refresh_token":"refresh","token_type":"Bearer"}`), 0o600))

	f := accountsAddCmd.Flags()
	require.NoError(t, f.Set("user", userID))
	require.NoError(t, f.Set("label", "personal"))
	require.NoError(t, f.Set("email", "me@gmail.com"))
	require.NoError(t, f.Set("token-file", tokenPath))
	acctID, err := execute(t, accountsAddCmd)
	require.NoError(t, err)
	require.NotEmpty(t, acctID)

	st, err := openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	accts, err := st.ListActiveAccounts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, model.LabelPersonal, accts[0].Label)
	cipher, err := credentials.CipherFromBase64("")
	require.NoError(t, err)
	tok, err := cipher.DecodeToken(accts[0].Credentials)
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)

	j, err := st.CreateJob(ctx, userID, []model.AccountLabel{model.LabelPersonal})
	require.NoError(t, err)

	require.NoError(t, jobsListCmd.Flags().Set("user", userID))
	out, err := execute(t, jobsListCmd)
	require.NoError(t, err)
	assert.Contains(t, out, truncateID(j.ID))
	assert.Contains(t, out, "queued")

	out, err = execute(t, jobsCancelCmd, j.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	out, err = execute(t, jobsStatusCmd, j.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	_, err = execute(t, jobsCancelCmd, j.ID)
	assert.Error(t, err)

	_, err = execute(t, jobsStatusCmd, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsersAdd_InvalidEmail(t *testing.T) {
	useSQLite(t)
	_, err := execute(t, usersAddCmd, "not-an-email")
	assert.Error(t, err)
}

func TestAccountsAdd_UnknownLabel(t *testing.T) {
	useSQLite(t)
	f := accountsAddCmd.Flags()
	require.NoError(t, f.Set("label", "work"))
	t.Cleanup(func() { _ = f.Set("label", "") })

	_, err := execute(t, accountsAddCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work")
}

func TestDetachedQueue(t *testing.T) {
	var q detachedQueue
	assert.Empty(t, q.Enqueue(model.Job{ID: "j1"}))
	assert.False(t, q.Cancel("j1"))
}

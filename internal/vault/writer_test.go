package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

type progressCall struct {
	kind           string
	written, total int
}

func newTestWriter(t *testing.T, every int) (*Writer, string) {
	t.Helper()
	root := t.TempDir()
	mgr, err := NewManager(root)
	require.NoError(t, err)
	require.NoError(t, mgr.Init())
	return NewWriter(mgr, every, metrics.New()), root
}

func testMessages(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.Message{
			ID:           fmt.Sprintf("m%d", i),
			Subject:      fmt.Sprintf("Subject %d", i),
			SenderEmail:  "Ana@Example.com",
			AccountLabel: model.LabelPersonal,
			Date:         time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func TestWriter_WriteEmails(t *testing.T) {
	w, root := newTestWriter(t, 2)
	msgs := testMessages(5)
	tags := map[string][]model.Tag{
		"m0": {{Value: "personal", Category: model.TagAccount}},
	}

	var calls []progressCall
	n, err := w.WriteEmails(context.Background(), msgs, tags, func(_ context.Context, kind string, written, total int) error {
		calls = append(calls, progressCall{kind, written, total})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []progressCall{
		{KindEmail, 2, 5},
		{KindEmail, 4, 5},
		{KindEmail, 5, 5},
	}, calls)

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(EmailPath(msgs[0]))))
	require.NoError(t, err)
	assert.Contains(t, string(data), "account/personal")
}

func TestWriter_WriteContacts(t *testing.T) {
	w, root := newTestWriter(t, 10)
	cs := []model.Contact{
		{Email: "ana@example.com", Name: ptr("Ana"), EmailCount: 3},
		{Email: "bo@example.com"},
	}

	var calls []progressCall
	n, err := w.WriteContacts(context.Background(), cs, testMessages(3), func(_ context.Context, kind string, written, total int) error {
		calls = append(calls, progressCall{kind, written, total})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []progressCall{{KindContact, 2, 2}}, calls)

	ana, err := os.ReadFile(filepath.Join(root, "Contacts", "Ana.md"))
	require.NoError(t, err)
	assert.Contains(t, string(ana), "email_count_personal: 3")

	bo, err := os.ReadFile(filepath.Join(root, "Contacts", "bo@example.com.md"))
	require.NoError(t, err)
	assert.NotContains(t, string(bo), "## Recent Emails")
}

func TestWriter_EmptyStillReportsProgress(t *testing.T) {
	w, _ := newTestWriter(t, 10)
	var calls []progressCall
	n, err := w.WriteContacts(context.Background(), nil, nil, func(_ context.Context, kind string, written, total int) error {
		calls = append(calls, progressCall{kind, written, total})
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []progressCall{{KindContact, 0, 0}}, calls)
}

func TestWriter_ProgressErrorStops(t *testing.T) {
	w, _ := newTestWriter(t, 1)
	stop := errors.New("cancelled")
	n, err := w.WriteEmails(context.Background(), testMessages(4), nil, func(context.Context, string, int, int) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestWriter_ContextCancelled(t *testing.T) {
	w, _ := newTestWriter(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := w.WriteEmails(ctx, testMessages(3), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

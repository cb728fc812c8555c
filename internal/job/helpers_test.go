package job

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/fetch"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
	"github.com/tooeysb/gmail-obsidian-integration/internal/store"
	"github.com/tooeysb/gmail-obsidian-integration/internal/vault"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/google"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/google/mocks"
)

type fixture struct {
	st       *store.SQLiteStore
	user     *model.User
	personal *model.Account
	main     *model.Account
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	u, err := st.CreateUser(ctx, "owner@example.com")
	require.NoError(t, err)
	personal, err := st.UpsertAccount(ctx, model.Account{UserID: u.ID, Label: model.LabelPersonal, Email: "me@gmail.com", Credentials: []byte("blob")})
	require.NoError(t, err)
	main, err := st.UpsertAccount(ctx, model.Account{UserID: u.ID, Label: model.LabelProcoreMain, Email: "me@procore.com", Credentials: []byte("blob")})
	require.NoError(t, err)

	return &fixture{st: st, user: u, personal: personal, main: main, root: filepath.Join(t.TempDir(), "vault")}
}

func (f *fixture) createJob(t *testing.T, labels ...model.AccountLabel) model.Job {
	t.Helper()
	job, err := f.st.CreateJob(context.Background(), f.user.ID, labels)
	require.NoError(t, err)
	return *job
}

func (f *fixture) job(t *testing.T, id string) *model.Job {
	t.Helper()
	job, err := f.st.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func newTestRunner(t *testing.T, f *fixture, clients ClientFunc, opts ...Option) *Runner {
	t.Helper()
	vm, err := vault.NewManager(f.root)
	require.NoError(t, err)
	base := []Option{
		WithFetchConfig(fetch.Config{
			PageSize:  500,
			ChunkSize: 50,
			Retry:     resilience.NewRetryConfig(1, time.Millisecond, time.Millisecond),
		}),
		WithCommitEvery(1),
	}
	return NewRunner(f.st, clients, vm, append(base, opts...)...)
}

func mail(id, sender, name, subject string, day int) *model.Message {
	return &model.Message{
		ProviderMessageID: id,
		SenderEmail:       sender,
		SenderName:        name,
		Subject:           subject,
		Recipients:        "me@example.com",
		Date:              time.Date(2024, 5, day, 10, 0, 0, 0, time.UTC),
		Summary:           "snippet " + id,
	}
}

// mailbox serves one page of msgs for query.
func mailbox(t *testing.T, query string, msgs ...*model.Message) *mocks.MockClient {
	t.Helper()
	c := mocks.NewMockClient(t)
	ids := make([]string, 0, len(msgs))
	found := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ProviderMessageID)
		found[m.ProviderMessageID] = m
	}
	c.On("ListMessageIDs", mock.Anything, query, "", int64(500)).Return(ids, "", nil).Once()
	if len(ids) > 0 {
		c.On("GetMessagesBatch", mock.Anything, ids).Return(found, map[string]error{}).Once()
	}
	return c
}

// clientsByAccount returns the client registered for each account id.
func clientsByAccount(clients map[string]google.Client) ClientFunc {
	return func(_ context.Context, acct model.Account) (google.Client, error) {
		return clients[acct.ID], nil
	}
}

type fakeEnricher struct {
	size    int
	err     error
	onBatch func()

	mu      sync.Mutex
	batches [][]string
}

func (f *fakeEnricher) MaxBatchSize() int { return f.size }

func (f *fakeEnricher) Process(_ context.Context, msgs []model.Message) (map[string]model.ThemePayload, error) {
	f.mu.Lock()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	f.batches = append(f.batches, ids)
	f.mu.Unlock()

	if f.onBatch != nil {
		f.onBatch()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]model.ThemePayload, len(msgs))
	for _, m := range msgs {
		out[m.ID] = model.ThemePayload{
			ExplicitTopics:      []string{"Q4 Budget"},
			RelationshipContext: "Colleague",
			Sentiment:           "Positive",
			Domains:             []string{"Finance"},
		}.WithDefaults()
	}
	return out, nil
}

type fakeSource struct {
	records map[model.AccountLabel][]model.ContactRecord
	errs    map[model.AccountLabel]error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Collect(_ context.Context, acct model.Account) ([]model.ContactRecord, error) {
	return s.records[acct.Label], s.errs[acct.Label]
}

// progressStore records every committed progress update.
type progressStore struct {
	store.Store

	mu      sync.Mutex
	updates []model.JobProgress
}

func (s *progressStore) UpdateJobProgress(ctx context.Context, jobID string, p model.JobProgress) error {
	s.mu.Lock()
	s.updates = append(s.updates, p)
	s.mu.Unlock()
	return s.Store.UpdateJobProgress(ctx, jobID, p)
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tooeysb/gmail-obsidian-integration/internal/db"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_job":             `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`,
	"update_job_progress": updateJobProgressSQL,
	"latest_message_date": latestMessageDateSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that share it,
// such as the Postgres-backed rate limiter.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS accounts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	label          TEXT NOT NULL,
	email          TEXT NOT NULL,
	active         BOOLEAN NOT NULL DEFAULT true,
	credentials    BYTEA,
	last_synced_at TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, email)
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	account_id          TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	provider_message_id TEXT NOT NULL,
	thread_id           TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	sender_email        TEXT NOT NULL DEFAULT '',
	sender_name         TEXT NOT NULL DEFAULT '',
	recipients          TEXT NOT NULL DEFAULT '',
	date                TIMESTAMPTZ NOT NULL,
	summary             TEXT NOT NULL DEFAULT '',
	has_attachments     BOOLEAN NOT NULL DEFAULT false,
	attachment_count    INTEGER NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (account_id, provider_message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_account_date ON messages(account_id, date DESC);

CREATE TABLE IF NOT EXISTS tags (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	tag        TEXT NOT NULL,
	category   TEXT NOT NULL,
	confidence DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tags_message_id ON tags(message_id);

CREATE TABLE IF NOT EXISTS contacts (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id              TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	email                TEXT NOT NULL,
	name                 TEXT,
	phone                TEXT,
	account_sources      TEXT[] NOT NULL DEFAULT '{}',
	email_count          INTEGER NOT NULL DEFAULT 0,
	last_contact_at      TIMESTAMPTZ,
	notes                TEXT NOT NULL DEFAULT '',
	relationship_context TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, email)
);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	status             TEXT NOT NULL DEFAULT 'queued',
	phase              TEXT NOT NULL DEFAULT '',
	progress_pct       INTEGER NOT NULL DEFAULT 0 CHECK (progress_pct BETWEEN 0 AND 100),
	emails_processed   INTEGER NOT NULL DEFAULT 0,
	emails_total       INTEGER,
	contacts_processed INTEGER NOT NULL DEFAULT 0,
	account_labels     TEXT[] NOT NULL DEFAULT '{}',
	queue_id           TEXT NOT NULL DEFAULT '',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_jobs_active_user ON jobs(user_id) WHERE status IN ('queued', 'running');
CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS rate_limit_buckets (
	key         TEXT PRIMARY KEY,
	tokens      DOUBLE PRECISION NOT NULL,
	refilled_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Users and accounts ---

func (s *PostgresStore) CreateUser(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at`,
		uuid.New().String(), email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create user %s", email)
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get user %s", userID)
	}
	return &u, nil
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, acct model.Account) (*model.Account, error) {
	now := time.Now().UTC()
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (id, user_id, label, email, active, credentials, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, $5, $6, $6)
		ON CONFLICT (user_id, email) DO UPDATE SET
			label = EXCLUDED.label,
			active = true,
			credentials = EXCLUDED.credentials,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		acct.ID, acct.UserID, string(acct.Label), acct.Email, acct.Credentials, now,
	).Scan(&acct.ID, &acct.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert account %s", acct.Email)
	}
	acct.Active = true
	acct.UpdatedAt = now
	return &acct, nil
}

func (s *PostgresStore) ListActiveAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, label, email, active, credentials, last_synced_at, created_at, updated_at
		FROM accounts WHERE user_id = $1 AND active ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list accounts %s", userID)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Label, &a.Email, &a.Active, &a.Credentials,
			&a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan account")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate accounts")
}

func (s *PostgresStore) UpdateAccountCredentials(ctx context.Context, accountID string, blob []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET credentials = $1, updated_at = $2 WHERE id = $3`,
		blob, time.Now().UTC(), accountID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update credentials %s", accountID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "account %s", accountID)
	}
	return nil
}

func (s *PostgresStore) MarkAccountSynced(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE accounts SET last_synced_at = $1, updated_at = $1 WHERE id = $2`,
		at.UTC(), accountID,
	)
	return eris.Wrapf(err, "postgres: mark account synced %s", accountID)
}

// --- Messages ---

const latestMessageDateSQL = `SELECT max(date) FROM messages WHERE account_id = $1`

func (s *PostgresStore) LatestMessageDate(ctx context.Context, accountID string) (*time.Time, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, latestMessageDateSQL, accountID).Scan(&latest); err != nil {
		return nil, eris.Wrapf(err, "postgres: latest message date %s", accountID)
	}
	return latest, nil
}

var messageColumns = []string{
	"id", "user_id", "account_id", "provider_message_id", "thread_id", "subject",
	"sender_email", "sender_name", "recipients", "date", "summary",
	"has_attachments", "attachment_count",
}

// InsertMessages stores messages, ignoring any whose (account_id,
// provider_message_id) already exists. It returns the number inserted.
func (s *PostgresStore) InsertMessages(ctx context.Context, msgs []model.Message) (int64, error) {
	rows := make([][]any, len(msgs))
	for i, m := range msgs {
		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows[i] = []any{
			id, m.UserID, m.AccountID, m.ProviderMessageID, m.ThreadID, m.Subject,
			m.SenderEmail, m.SenderName, m.Recipients, m.Date.UTC(), m.Summary,
			m.HasAttachments, m.AttachmentCount,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "messages",
		Columns:      messageColumns,
		ConflictKeys: []string{"account_id", "provider_message_id"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert messages")
	}
	return n, nil
}

const messageSelect = `SELECT m.id, m.user_id, m.account_id, a.label, m.provider_message_id, m.thread_id,
	m.subject, m.sender_email, m.sender_name, m.recipients, m.date, m.summary,
	m.has_attachments, m.attachment_count
FROM messages m JOIN accounts a ON a.id = m.account_id`

func (s *PostgresStore) ListMessages(ctx context.Context, userID string) ([]model.Message, error) {
	return s.queryMessages(ctx, messageSelect+` WHERE m.user_id = $1 ORDER BY m.date DESC`, userID)
}

// ListUntaggedMessages returns the user's messages that carry no tags yet,
// oldest first.
func (s *PostgresStore) ListUntaggedMessages(ctx context.Context, userID string) ([]model.Message, error) {
	return s.queryMessages(ctx, messageSelect+` WHERE m.user_id = $1
	AND NOT EXISTS (SELECT 1 FROM tags t WHERE t.message_id = m.id)
	ORDER BY m.date`, userID)
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query messages")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.AccountID, &m.AccountLabel, &m.ProviderMessageID,
			&m.ThreadID, &m.Subject, &m.SenderEmail, &m.SenderName, &m.Recipients, &m.Date,
			&m.Summary, &m.HasAttachments, &m.AttachmentCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan message")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate messages")
}

// SenderRecords aggregates stored messages into one contact record per
// (account label, lowercased sender email).
func (s *PostgresStore) SenderRecords(ctx context.Context, userID string) ([]model.ContactRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.label,
			lower(m.sender_email) AS email,
			(array_agg(m.sender_name ORDER BY m.date DESC) FILTER (WHERE m.sender_name <> ''))[1] AS name,
			count(*) AS email_count,
			max(m.date) AS last_contact_at
		FROM messages m JOIN accounts a ON a.id = m.account_id
		WHERE m.user_id = $1 AND m.sender_email <> ''
		GROUP BY a.label, lower(m.sender_email)
		ORDER BY min(m.date), 2, 1`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: sender records %s", userID)
	}
	defer rows.Close()

	var out []model.ContactRecord
	for rows.Next() {
		var (
			r     model.ContactRecord
			name  *string
			count int
			last  time.Time
		)
		if err := rows.Scan(&r.Source, &r.Email, &name, &count, &last); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sender record")
		}
		if name != nil {
			r.Name = *name
		}
		r.EmailCount = &count
		r.LastContactAt = &last
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sender records")
}

// --- Tags ---

var tagColumns = []string{"id", "message_id", "tag", "category", "confidence"}

// ReplaceTags deletes every existing tag of the given messages and inserts
// the new set, in one transaction.
func (s *PostgresStore) ReplaceTags(ctx context.Context, tags map[string][]model.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tags))
	var rows [][]any
	for msgID, ts := range tags {
		ids = append(ids, msgID)
		for _, t := range ts {
			id := t.ID
			if id == "" {
				id = uuid.New().String()
			}
			rows = append(rows, []any{id, msgID, t.Value, string(t.Category), t.Confidence})
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace tags: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM tags WHERE message_id = ANY($1)`, ids); err != nil {
		return eris.Wrap(err, "postgres: replace tags: delete")
	}
	if _, err := db.CopyFrom(ctx, tx, "tags", tagColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: replace tags: copy")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: replace tags: commit")
}

func (s *PostgresStore) ListTags(ctx context.Context, userID string) (map[string][]model.Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.message_id, t.tag, t.category, t.confidence
		FROM tags t JOIN messages m ON m.id = t.message_id
		WHERE m.user_id = $1
		ORDER BY t.message_id, t.category, t.tag`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list tags %s", userID)
	}
	defer rows.Close()

	out := make(map[string][]model.Tag)
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.MessageID, &t.Value, &t.Category, &t.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tag")
		}
		out[t.MessageID] = append(out[t.MessageID], t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate tags")
}

// --- Contacts ---

// UpsertContacts writes merged contacts keyed by (user_id, email). Every
// mutable field of an existing row is replaced.
func (s *PostgresStore) UpsertContacts(ctx context.Context, userID string, contacts []model.Contact) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(contacts))
	for i, c := range contacts {
		rows[i] = []any{
			uuid.New().String(), userID, c.Email, c.Name, c.Phone, c.SourceStrings(),
			c.EmailCount, c.LastContactAt, now,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "contacts",
		Columns:      []string{"id", "user_id", "email", "name", "phone", "account_sources", "email_count", "last_contact_at", "updated_at"},
		ConflictKeys: []string{"user_id", "email"},
		UpdateCols:   []string{"name", "phone", "account_sources", "email_count", "last_contact_at", "updated_at"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert contacts %s", userID)
	}
	return n, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, email, name, phone, account_sources, email_count, last_contact_at,
			notes, relationship_context
		FROM contacts WHERE user_id = $1 ORDER BY email`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list contacts %s", userID)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var (
			c       model.Contact
			sources []string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Email, &c.Name, &c.Phone, &sources, &c.EmailCount,
			&c.LastContactAt, &c.Notes, &c.RelationshipContext); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		c.AccountSources = toLabels(sources)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate contacts")
}

// --- Jobs ---

const jobColumns = `id, user_id, status, phase, progress_pct, emails_processed, emails_total,
	contacts_processed, account_labels, queue_id, retry_count, error_message,
	started_at, completed_at, created_at, updated_at`

const updateJobProgressSQL = `UPDATE jobs SET
	phase = $2,
	progress_pct = GREATEST(progress_pct, $3),
	emails_processed = GREATEST(emails_processed, $4),
	emails_total = COALESCE($5, emails_total),
	contacts_processed = GREATEST(contacts_processed, $6),
	updated_at = now()
WHERE id = $1 AND status = 'running'`

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j      model.Job
		labels []string
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Phase, &j.ProgressPct, &j.EmailsProcessed,
		&j.EmailsTotal, &j.ContactsProcessed, &labels, &j.QueueID, &j.RetryCount, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.AccountLabels = toLabels(labels)
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, userID string, labels []model.AccountLabel) (*model.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, user_id, status, account_labels) VALUES ($1, $2, 'queued', $3)
		RETURNING `+jobColumns,
		uuid.New().String(), userID, labelStrings(labels),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, eris.Wrapf(ErrJobActive, "user %s", userID)
		}
		return nil, eris.Wrapf(err, "postgres: create job for %s", userID)
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list jobs %s", userID)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) MarkJobRunning(ctx context.Context, jobID, queueID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'running', queue_id = $2,
			started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')`,
		jobID, queueID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job running %s", jobID)
	}
	return s.checkTransition(ctx, tag, jobID)
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, p model.JobProgress) error {
	tag, err := s.pool.Exec(ctx, updateJobProgressSQL,
		jobID, string(p.Phase), clampProgress(p.ProgressPct), p.EmailsProcessed, p.EmailsTotal, p.ContactsProcessed,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", jobID)
	}
	return s.checkTransition(ctx, tag, jobID)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', phase = 'completed', progress_pct = 100,
			completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	return s.checkTransition(ctx, tag, jobID)
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')`,
		jobID, message,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	return s.checkTransition(ctx, tag, jobID)
}

// CancelJob moves a queued or running job to cancelled.
func (s *PostgresStore) CancelJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')`,
		jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel job %s", jobID)
	}
	return s.checkTransition(ctx, tag, jobID)
}

func (s *PostgresStore) IncrementJobRetry(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET retry_count = retry_count + 1, updated_at = now() WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment job retry %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

// checkTransition turns a zero-row conditional update into ErrNotFound or
// ErrJobNotActive.
func (s *PostgresStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, jobID string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: job status %s", jobID)
	}
	return eris.Wrapf(ErrJobNotActive, "job %s is %s", jobID, status)
}

func (s *PostgresStore) JobResults(ctx context.Context, jobID string) (*model.JobResults, error) {
	r := model.JobResults{JobID: jobID}
	err := s.pool.QueryRow(ctx,
		`SELECT j.status,
			(SELECT count(*) FROM contacts c WHERE c.user_id = j.user_id),
			(SELECT count(*) FROM messages m WHERE m.user_id = j.user_id),
			(SELECT count(*) FROM tags t JOIN messages m ON m.id = t.message_id WHERE m.user_id = j.user_id)
		FROM jobs j WHERE j.id = $1`,
		jobID,
	).Scan(&r.Status, &r.ContactCount, &r.MessageCount, &r.TagCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: job results %s", jobID)
	}
	return &r, nil
}

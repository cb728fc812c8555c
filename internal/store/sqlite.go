package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local,
// single-user runs; the rate limiter falls back to its in-memory backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// Per-connection pragmas go in the DSN so every pooled connection gets them.
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	// Times are written as "2006-01-02 15:04:05.999999999-07:00". All writes
	// are UTC, so max() and ORDER BY over the text keep chronological order.
	if !strings.Contains(dsn, "_time_format=") {
		dsn += "&_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	label          TEXT NOT NULL,
	email          TEXT NOT NULL,
	active         INTEGER NOT NULL DEFAULT 1,
	credentials    BLOB,
	last_synced_at DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE (user_id, email)
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	account_id          TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	provider_message_id TEXT NOT NULL,
	thread_id           TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	sender_email        TEXT NOT NULL DEFAULT '',
	sender_name         TEXT NOT NULL DEFAULT '',
	recipients          TEXT NOT NULL DEFAULT '',
	date                DATETIME NOT NULL,
	summary             TEXT NOT NULL DEFAULT '',
	has_attachments     INTEGER NOT NULL DEFAULT 0,
	attachment_count    INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (account_id, provider_message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_account_date ON messages(account_id, date DESC);

CREATE TABLE IF NOT EXISTS tags (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	tag        TEXT NOT NULL,
	category   TEXT NOT NULL,
	confidence REAL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tags_message_id ON tags(message_id);

CREATE TABLE IF NOT EXISTS contacts (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	email                TEXT NOT NULL,
	name                 TEXT,
	phone                TEXT,
	account_sources      TEXT NOT NULL DEFAULT '[]',
	email_count          INTEGER NOT NULL DEFAULT 0,
	last_contact_at      DATETIME,
	notes                TEXT NOT NULL DEFAULT '',
	relationship_context TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, email)
);

CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	status             TEXT NOT NULL DEFAULT 'queued',
	phase              TEXT NOT NULL DEFAULT '',
	progress_pct       INTEGER NOT NULL DEFAULT 0 CHECK (progress_pct BETWEEN 0 AND 100),
	emails_processed   INTEGER NOT NULL DEFAULT 0,
	emails_total       INTEGER,
	contacts_processed INTEGER NOT NULL DEFAULT 0,
	account_labels     TEXT NOT NULL DEFAULT '[]',
	queue_id           TEXT NOT NULL DEFAULT '',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	started_at         DATETIME,
	completed_at       DATETIME,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_jobs_active_user ON jobs(user_id) WHERE status IN ('queued', 'running');
CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at DESC);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users and accounts ---

func (s *SQLiteStore) CreateUser(ctx context.Context, email string) (*model.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?) ON CONFLICT (email) DO NOTHING`,
		uuid.New().String(), email, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create user %s", email)
	}
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE email = ?`, email), email)
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE id = ?`, userID), userID)
}

func (s *SQLiteStore) scanUser(row *sql.Row, key string) (*model.User, error) {
	var (
		u  model.User
		ts sqliteTime
	)
	err := row.Scan(&u.ID, &u.Email, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "user %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get user %s", key)
	}
	u.CreatedAt = ts.Time
	return &u, nil
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, acct model.Account) (*model.Account, error) {
	now := time.Now().UTC()
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, label, email, active, credentials, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (user_id, email) DO UPDATE SET
			label = excluded.label,
			active = 1,
			credentials = excluded.credentials,
			updated_at = excluded.updated_at`,
		acct.ID, acct.UserID, string(acct.Label), acct.Email, acct.Credentials, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert account %s", acct.Email)
	}

	var created sqliteTime
	if err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM accounts WHERE user_id = ? AND email = ?`, acct.UserID, acct.Email,
	).Scan(&acct.ID, &created); err != nil {
		return nil, eris.Wrapf(err, "sqlite: reload account %s", acct.Email)
	}
	acct.Active = true
	acct.CreatedAt = created.Time
	acct.UpdatedAt = now
	return &acct, nil
}

func (s *SQLiteStore) ListActiveAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, label, email, active, credentials, last_synced_at, created_at, updated_at
		FROM accounts WHERE user_id = ? AND active = 1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list accounts %s", userID)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var (
			a                      model.Account
			synced, created, updtd sqliteTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Label, &a.Email, &a.Active, &a.Credentials,
			&synced, &created, &updtd); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan account")
		}
		a.LastSyncedAt = synced.Ptr()
		a.CreatedAt = created.Time
		a.UpdatedAt = updtd.Time
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate accounts")
}

func (s *SQLiteStore) UpdateAccountCredentials(ctx context.Context, accountID string, blob []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET credentials = ?, updated_at = ? WHERE id = ?`,
		blob, time.Now().UTC(), accountID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update credentials %s", accountID)
	}
	return checkRowsAffected(res, "account", accountID)
}

func (s *SQLiteStore) MarkAccountSynced(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), at.UTC(), accountID,
	)
	return eris.Wrapf(err, "sqlite: mark account synced %s", accountID)
}

// --- Messages ---

func (s *SQLiteStore) LatestMessageDate(ctx context.Context, accountID string) (*time.Time, error) {
	var latest sqliteTime
	if err := s.db.QueryRowContext(ctx,
		`SELECT max(date) FROM messages WHERE account_id = ?`, accountID,
	).Scan(&latest); err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest message date %s", accountID)
	}
	return latest.Ptr(), nil
}

func (s *SQLiteStore) InsertMessages(ctx context.Context, msgs []model.Message) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert messages: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO messages (id, user_id, account_id, provider_message_id, thread_id, subject,
			sender_email, sender_name, recipients, date, summary, has_attachments, attachment_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert messages: prepare")
	}
	defer stmt.Close()

	var inserted int64
	for _, m := range msgs {
		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := stmt.ExecContext(ctx, id, m.UserID, m.AccountID, m.ProviderMessageID, m.ThreadID,
			m.Subject, m.SenderEmail, m.SenderName, m.Recipients, m.Date.UTC(), m.Summary,
			m.HasAttachments, m.AttachmentCount)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert message %s", m.ProviderMessageID)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert messages: commit")
	}
	return inserted, nil
}

const sqliteMessageSelect = `SELECT m.id, m.user_id, m.account_id, a.label, m.provider_message_id, m.thread_id,
	m.subject, m.sender_email, m.sender_name, m.recipients, m.date, m.summary,
	m.has_attachments, m.attachment_count
FROM messages m JOIN accounts a ON a.id = m.account_id`

func (s *SQLiteStore) ListMessages(ctx context.Context, userID string) ([]model.Message, error) {
	return s.queryMessages(ctx, sqliteMessageSelect+` WHERE m.user_id = ? ORDER BY m.date DESC`, userID)
}

func (s *SQLiteStore) ListUntaggedMessages(ctx context.Context, userID string) ([]model.Message, error) {
	return s.queryMessages(ctx, sqliteMessageSelect+` WHERE m.user_id = ?
	AND NOT EXISTS (SELECT 1 FROM tags t WHERE t.message_id = m.id)
	ORDER BY m.date`, userID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query messages")
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m    model.Message
			date sqliteTime
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.AccountID, &m.AccountLabel, &m.ProviderMessageID,
			&m.ThreadID, &m.Subject, &m.SenderEmail, &m.SenderName, &m.Recipients, &date,
			&m.Summary, &m.HasAttachments, &m.AttachmentCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan message")
		}
		m.Date = date.Time
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate messages")
}

// SenderRecords aggregates stored messages into one contact record per
// (account label, lowercased sender email). The name is the latest
// non-empty sender name seen for that pair.
func (s *SQLiteStore) SenderRecords(ctx context.Context, userID string) ([]model.ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.label,
			lower(m.sender_email) AS email,
			(SELECT m2.sender_name FROM messages m2
				WHERE m2.account_id = m.account_id
				AND lower(m2.sender_email) = lower(m.sender_email)
				AND m2.sender_name <> ''
				ORDER BY m2.date DESC LIMIT 1) AS name,
			count(*) AS email_count,
			max(m.date) AS last_contact_at
		FROM messages m JOIN accounts a ON a.id = m.account_id
		WHERE m.user_id = ? AND m.sender_email <> ''
		GROUP BY m.account_id, a.label, lower(m.sender_email)
		ORDER BY min(m.date), 2, 1`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: sender records %s", userID)
	}
	defer rows.Close()

	var out []model.ContactRecord
	for rows.Next() {
		var (
			r     model.ContactRecord
			name  sql.NullString
			count int
			last  sqliteTime
		)
		if err := rows.Scan(&r.Source, &r.Email, &name, &count, &last); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sender record")
		}
		r.Name = name.String
		r.EmailCount = &count
		r.LastContactAt = last.Ptr()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sender records")
}

// --- Tags ---

func (s *SQLiteStore) ReplaceTags(ctx context.Context, tags map[string][]model.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace tags: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for msgID, ts := range tags {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE message_id = ?`, msgID); err != nil {
			return eris.Wrapf(err, "sqlite: replace tags: delete %s", msgID)
		}
		for _, t := range ts {
			id := t.ID
			if id == "" {
				id = uuid.New().String()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tags (id, message_id, tag, category, confidence) VALUES (?, ?, ?, ?, ?)`,
				id, msgID, t.Value, string(t.Category), nullable(t.Confidence),
			); err != nil {
				return eris.Wrapf(err, "sqlite: replace tags: insert %s", msgID)
			}
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: replace tags: commit")
}

func (s *SQLiteStore) ListTags(ctx context.Context, userID string) (map[string][]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.message_id, t.tag, t.category, t.confidence
		FROM tags t JOIN messages m ON m.id = t.message_id
		WHERE m.user_id = ?
		ORDER BY t.message_id, t.category, t.tag`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list tags %s", userID)
	}
	defer rows.Close()

	out := make(map[string][]model.Tag)
	for rows.Next() {
		var (
			t    model.Tag
			conf sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.MessageID, &t.Value, &t.Category, &conf); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tag")
		}
		if conf.Valid {
			t.Confidence = &conf.Float64
		}
		out[t.MessageID] = append(out[t.MessageID], t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate tags")
}

// --- Contacts ---

func (s *SQLiteStore) UpsertContacts(ctx context.Context, userID string, contacts []model.Contact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert contacts: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, c := range contacts {
		sources, err := json.Marshal(c.SourceStrings())
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal account sources")
		}
		var last any
		if c.LastContactAt != nil {
			last = c.LastContactAt.UTC()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO contacts (id, user_id, email, name, phone, account_sources, email_count,
				last_contact_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, email) DO UPDATE SET
				name = excluded.name,
				phone = excluded.phone,
				account_sources = excluded.account_sources,
				email_count = excluded.email_count,
				last_contact_at = excluded.last_contact_at,
				updated_at = excluded.updated_at`,
			uuid.New().String(), userID, c.Email, nullable(c.Name), nullable(c.Phone), string(sources), c.EmailCount,
			last, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert contact %s", c.Email)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert contacts: commit")
	}
	return n, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, email, name, phone, account_sources, email_count, last_contact_at,
			notes, relationship_context
		FROM contacts WHERE user_id = ? ORDER BY email`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list contacts %s", userID)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var (
			c           model.Contact
			name, phone sql.NullString
			sources     string
			last        sqliteTime
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Email, &name, &phone, &sources, &c.EmailCount,
			&last, &c.Notes, &c.RelationshipContext); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		if name.Valid {
			c.Name = &name.String
		}
		if phone.Valid {
			c.Phone = &phone.String
		}
		var raw []string
		if err := json.Unmarshal([]byte(sources), &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal account sources")
		}
		c.AccountSources = toLabels(raw)
		c.LastContactAt = last.Ptr()
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate contacts")
}

// --- Jobs ---

const sqliteJobColumns = `id, user_id, status, phase, progress_pct, emails_processed, emails_total,
	contacts_processed, account_labels, queue_id, retry_count, error_message,
	started_at, completed_at, created_at, updated_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, userID string, labels []model.AccountLabel) (*model.Job, error) {
	raw, err := json.Marshal(labelStrings(labels))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal account labels")
	}
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, status, account_labels, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?, ?)`,
		id, userID, string(raw), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, eris.Wrapf(ErrJobActive, "user %s", userID)
		}
		return nil, eris.Wrapf(err, "sqlite: create job for %s", userID)
	}
	return s.GetJob(ctx, id)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list jobs %s", userID)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) MarkJobRunning(ctx context.Context, jobID, queueID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', queue_id = ?,
			started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`,
		queueID, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job running %s", jobID)
	}
	return s.checkTransition(ctx, res, jobID)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, p model.JobProgress) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
			phase = ?,
			progress_pct = MAX(progress_pct, ?),
			emails_processed = MAX(emails_processed, ?),
			emails_total = COALESCE(?, emails_total),
			contacts_processed = MAX(contacts_processed, ?),
			updated_at = ?
		WHERE id = ? AND status = 'running'`,
		string(p.Phase), clampProgress(p.ProgressPct), p.EmailsProcessed, nullable(p.EmailsTotal), p.ContactsProcessed,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
	}
	return s.checkTransition(ctx, res, jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', phase = 'completed', progress_pct = 100,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return s.checkTransition(ctx, res, jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, message string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`,
		message, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return s.checkTransition(ctx, res, jobID)
}

func (s *SQLiteStore) CancelJob(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`,
		now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel job %s", jobID)
	}
	return s.checkTransition(ctx, res, jobID)
}

func (s *SQLiteStore) IncrementJobRetry(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment job retry %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: job status %s", jobID)
	}
	return eris.Wrapf(ErrJobNotActive, "job %s is %s", jobID, status)
}

func (s *SQLiteStore) JobResults(ctx context.Context, jobID string) (*model.JobResults, error) {
	r := model.JobResults{JobID: jobID}
	err := s.db.QueryRowContext(ctx,
		`SELECT j.status,
			(SELECT count(*) FROM contacts c WHERE c.user_id = j.user_id),
			(SELECT count(*) FROM messages m WHERE m.user_id = j.user_id),
			(SELECT count(*) FROM tags t JOIN messages m ON m.id = t.message_id WHERE m.user_id = j.user_id)
		FROM jobs j WHERE j.id = ?`,
		jobID,
	).Scan(&r.Status, &r.ContactCount, &r.MessageCount, &r.TagCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: job results %s", jobID)
	}
	return &r, nil
}

// isUniqueViolation matches both extended and primary constraint codes;
// the primary code is shared with foreign key failures, so the message
// decides.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

// nullable dereferences an optional value for drivers that do not accept
// pointer arguments.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var (
		j                                  model.Job
		total                              sql.NullInt64
		labels                             string
		started, completed, created, updtd sqliteTime
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Phase, &j.ProgressPct, &j.EmailsProcessed,
		&total, &j.ContactsProcessed, &labels, &j.QueueID, &j.RetryCount, &j.ErrorMessage,
		&started, &completed, &created, &updtd)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		n := int(total.Int64)
		j.EmailsTotal = &n
	}
	var raw []string
	if err := json.Unmarshal([]byte(labels), &raw); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal account labels")
	}
	j.AccountLabels = toLabels(raw)
	j.StartedAt = started.Ptr()
	j.CompletedAt = completed.Ptr()
	j.CreatedAt = created.Time
	j.UpdatedAt = updtd.Time
	return &j, nil
}

// sqliteTimeLayouts are the encodings a DATETIME value may come back in.
// Aggregates such as max(date) lose the column type and return text.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	// time.Time.String, the driver's encoding without _time_format.
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// sqliteTime scans a nullable DATETIME column.
type sqliteTime struct {
	Time  time.Time
	Valid bool
}

func (t *sqliteTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = x.UTC(), true
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	case int64:
		t.Time, t.Valid = time.Unix(x, 0).UTC(), true
		return nil
	}
	return eris.Errorf("sqlite: cannot scan %T into time", v)
}

func (t *sqliteTime) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = ts.UTC(), true
			return nil
		}
	}
	return eris.Errorf("sqlite: unrecognized time %q", s)
}

// Ptr returns nil for NULL.
func (t sqliteTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}

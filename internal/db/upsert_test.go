package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "contacts",
		Columns:      []string{"id", "email"},
		ConflictKeys: []string{"email"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "contacts",
		ConflictKeys: []string{"email"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "contacts",
		Columns: []string{"id", "email"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "user_id", "email", "name"}
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_contacts" \(LIKE "contacts" INCLUDING DEFAULTS\)`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_contacts"}, cols).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("user_id", "email"\) DO UPDATE SET "name" = EXCLUDED."name"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "contacts",
		Columns:      cols,
		ConflictKeys: []string{"user_id", "email"},
		UpdateCols:   []string{"name"},
	}, [][]any{{"1", "u", "a@x.com", "A"}, {"2", "u", "b@x.com", "B"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_messages"}, []string{"id"}).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "messages",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
		DoNothing:    true,
	}, [][]any{{"1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for messages")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildUpsertSQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{
			name: "do nothing",
			cfg: UpsertConfig{
				Table:        "messages",
				Columns:      []string{"id", "account_id", "provider_message_id"},
				ConflictKeys: []string{"account_id", "provider_message_id"},
				DoNothing:    true,
			},
			want: `INSERT INTO "messages" ("id", "account_id", "provider_message_id") SELECT "id", "account_id", "provider_message_id" FROM "_tmp" ON CONFLICT ("account_id", "provider_message_id") DO NOTHING`,
		},
		{
			name: "default update columns",
			cfg: UpsertConfig{
				Table:        "public.contacts",
				Columns:      []string{"email", "name", "phone"},
				ConflictKeys: []string{"email"},
			},
			want: `INSERT INTO "public"."contacts" ("email", "name", "phone") SELECT "email", "name", "phone" FROM "_tmp" ON CONFLICT ("email") DO UPDATE SET "name" = EXCLUDED."name", "phone" = EXCLUDED."phone"`,
		},
		{
			name: "only conflict columns",
			cfg: UpsertConfig{
				Table:        "t",
				Columns:      []string{"k"},
				ConflictKeys: []string{"k"},
			},
			want: `INSERT INTO "t" ("k") SELECT "k" FROM "_tmp" ON CONFLICT ("k") DO NOTHING`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildUpsertSQL(tt.cfg, "_tmp"))
		})
	}
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"contacts", `"contacts"`},
		{"public.contacts", `"public"."contacts"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}

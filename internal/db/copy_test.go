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

var tagCols = []string{"id", "message_id", "category", "value", "confidence"}

func tagRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{i, "m1", "topic", "q4-budget", 0.9}
	}
	return rows
}

func TestCopyFrom_NoRowsSkipsCopy(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "tags", tagCols, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom(t *testing.T) {
	tests := []struct {
		table string
		ident pgx.Identifier
		rows  int
	}{
		{"tags", pgx.Identifier{"tags"}, 3},
		{"public.tags", pgx.Identifier{"public", "tags"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectCopyFrom(tt.ident, tagCols).WillReturnResult(int64(tt.rows))

			n, err := CopyFrom(context.Background(), mock, tt.table, tagCols, tagRows(tt.rows))
			require.NoError(t, err)
			assert.Equal(t, int64(tt.rows), n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"tags"}, tagCols).WillReturnError(errors.New("violates foreign key constraint"))

	_, err = CopyFrom(context.Background(), mock, "tags", tagCols, tagRows(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO tags")
	assert.NoError(t, mock.ExpectationsWereMet())
}

package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_TakeGranted(t *testing.T) {
	s, mock := newMockStore(t)
	spec := Spec{MaxTokens: 100, RefillRate: 3}

	mock.ExpectExec(`INSERT INTO rate_limit_buckets`).
		WithArgs("gmail", 100.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`UPDATE rate_limit_buckets`).
		WithArgs("gmail", 100.0, 3.0, 50.0).
		WillReturnRows(pgxmock.NewRows([]string{"tokens"}).AddRow(50.0))

	ok, err := s.Take(context.Background(), "gmail", 50, spec)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TakeShortEnsuresOnce(t *testing.T) {
	s, mock := newMockStore(t)
	spec := Spec{MaxTokens: 10, RefillRate: 1}

	mock.ExpectExec(`INSERT INTO rate_limit_buckets`).
		WithArgs("gmail", 10.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`UPDATE rate_limit_buckets`).
		WithArgs("gmail", 10.0, 1.0, 5.0).
		WillReturnRows(pgxmock.NewRows([]string{"tokens"}))
	mock.ExpectQuery(`UPDATE rate_limit_buckets`).
		WithArgs("gmail", 10.0, 1.0, 1.0).
		WillReturnRows(pgxmock.NewRows([]string{"tokens"}).AddRow(3.0))

	ok, err := s.Take(context.Background(), "gmail", 5, spec)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Take(context.Background(), "gmail", 1, spec)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TakeError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO rate_limit_buckets`).
		WithArgs("gmail", 1.0).
		WillReturnError(errors.New("relation does not exist"))

	_, err := s.Take(context.Background(), "gmail", 1, Spec{MaxTokens: 1, RefillRate: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure bucket gmail")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBucket_OnPostgresStore(t *testing.T) {
	s, mock := newMockStore(t)
	b, err := New(s, "gmail", 100, 3)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO rate_limit_buckets`).
		WithArgs("gmail", 100.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`UPDATE rate_limit_buckets`).
		WithArgs("gmail", 100.0, 3.0, 1.0).
		WillReturnRows(pgxmock.NewRows([]string{"tokens"}).AddRow(99.0))

	require.NoError(t, b.Wait(context.Background(), 1, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

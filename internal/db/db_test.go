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

func TestInsertIgnoreSQL(t *testing.T) {
	sql, err := InsertIgnoreSQL(InsertConfig{
		Table:        "leads",
		Columns:      []string{"id", "job_url"},
		ConflictKeys: []string{"job_id", "job_url"},
		Returning:    []string{"id"},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "leads" ("id", "job_url") VALUES ($1, $2), ($3, $4) ON CONFLICT ("job_id", "job_url") DO NOTHING RETURNING "id"`,
		sql)
}

func TestInsertIgnoreSQL_Errors(t *testing.T) {
	_, err := InsertIgnoreSQL(InsertConfig{Table: "t", ConflictKeys: []string{"id"}}, 1)
	assert.ErrorContains(t, err, "no columns specified")

	_, err = InsertIgnoreSQL(InsertConfig{Table: "t", Columns: []string{"id"}}, 1)
	assert.ErrorContains(t, err, "no conflict keys specified")

	_, err = InsertIgnoreSQL(InsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, 0)
	assert.ErrorContains(t, err, "no rows")
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"simple"`, sanitizeTable("simple"))
	assert.Equal(t, `"outreach"."leads"`, sanitizeTable("outreach.leads"))
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, "test", func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "UPDATE jobs SET status = 'x'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = WithTx(context.Background(), mock, "test", func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

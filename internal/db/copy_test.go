package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "consensus_rows", []string{"job_id", "rank"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"consensus_rows"}, []string{"job_id", "rank"}).WillReturnResult(3)

	rows := [][]any{{"j1", 1}, {"j1", 2}, {"j1", 3}}
	n, err := CopyFrom(context.Background(), mock, "consensus_rows", []string{"job_id", "rank"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"consensus_rows"}, []string{"job_id", "rank"}).
		WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "consensus_rows", []string{"job_id", "rank"}, [][]any{{"j1", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO consensus_rows")
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"specs", "consensus_rows"}, []string{"job_id", "rank"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "specs.consensus_rows", []string{"job_id", "rank"}, [][]any{{"j1", 1}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

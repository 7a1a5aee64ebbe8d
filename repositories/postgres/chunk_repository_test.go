package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/chat-relay/config"
)

// vectorArg matches a pgvector text literal such as "[1,0,0]"
type vectorArg string

func (v vectorArg) Match(value driver.Value) bool {
	s, ok := value.(string)
	return ok && strings.ReplaceAll(s, " ", "") == string(v)
}

func newMockRepository(t *testing.T, staging string) (*ChunkRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zap.NewNop()
	db := Wrap(sqlDB, logger)
	repo := NewChunkRepository(db, NewTransactionManager(db, logger), staging, logger)
	return repo, mock
}

func similarityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "content", "similarity"})
}

func TestNewChunkRepository_DefaultsToParamStaging(t *testing.T) {
	repo, _ := newMockRepository(t, "")
	assert.Equal(t, config.StagingParam, repo.Staging())
}

func TestChunkRepository_Nearest_Param(t *testing.T) {
	t.Run("returns top chunk", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingParam)

		mock.ExpectQuery(regexp.QuoteMeta(nearestByParamQuery)).
			WithArgs(vectorArg("[1,0,0.5]")).
			WillReturnRows(similarityRows().AddRow(int64(7), "pgvector adds a vector type", 0.92))

		result, err := repo.Nearest(context.Background(), []float32{1, 0, 0.5})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, int64(7), result.ChunkID)
		assert.Equal(t, "pgvector adds a vector type", result.Content)
		assert.Equal(t, 0.92, result.Score)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty store returns nil", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingParam)

		mock.ExpectQuery(regexp.QuoteMeta(nearestByParamQuery)).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(similarityRows())

		result, err := repo.Nearest(context.Background(), []float32{1, 0, 0})
		require.NoError(t, err)
		assert.Nil(t, result)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure is wrapped", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingParam)

		mock.ExpectQuery(regexp.QuoteMeta(nearestByParamQuery)).
			WithArgs(sqlmock.AnyArg()).
			WillReturnError(errors.New("relation \"chunks\" does not exist"))

		result, err := repo.Nearest(context.Background(), []float32{1, 0, 0})
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "failed to query nearest chunk")

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not touch the staging table", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingParam)

		mock.ExpectQuery(regexp.QuoteMeta(nearestByParamQuery)).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(similarityRows().AddRow(int64(1), "a", 1.0))

		_, err := repo.Nearest(context.Background(), []float32{1, 0, 0})
		require.NoError(t, err)

		// no Begin/Exec expected: any staging write would fail the expectations
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChunkRepository_Nearest_ZeroNormScoresZero(t *testing.T) {
	for _, query := range []string{nearestByParamQuery, nearestByStagedQuery} {
		assert.Contains(t, query, "NULLIF(1 - (")
		assert.Contains(t, query, "'NaN'::float8), 0) AS similarity")
		assert.Contains(t, query, "DESC NULLS LAST")
	}

	repo, mock := newMockRepository(t, config.StagingParam)
	mock.ExpectQuery(regexp.QuoteMeta(nearestByParamQuery)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(similarityRows().AddRow(int64(3), "zero vector", math.NaN()))

	result, err := repo.Nearest(context.Background(), []float32{0, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0.0, result.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_Nearest_Keyed(t *testing.T) {
	requestID := uuid.MustParse("6f1c2a5e-93c4-4b1e-9d7a-0f3b8c1d2e4f")

	t.Run("stages, queries and removes under one key", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingKeyed)
		repo.newID = func() uuid.UUID { return requestID }

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(stageQueryVector)).
			WithArgs(requestID, vectorArg("[0.25,0.5,1]")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(nearestByStagedQuery)).
			WithArgs(requestID).
			WillReturnRows(similarityRows().AddRow(int64(3), "chunk three", 0.81))
		mock.ExpectExec(regexp.QuoteMeta(unstageQueryVector)).
			WithArgs(requestID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := repo.Nearest(context.Background(), []float32{0.25, 0.5, 1})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, int64(3), result.ChunkID)
		assert.Equal(t, 0.81, result.Score)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("each call uses a fresh key", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingKeyed)

		var seen []uuid.UUID
		repo.newID = func() uuid.UUID {
			id := uuid.New()
			seen = append(seen, id)
			return id
		}

		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(stageQueryVector)).
				WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectQuery(regexp.QuoteMeta(nearestByStagedQuery)).
				WithArgs(sqlmock.AnyArg()).
				WillReturnRows(similarityRows().AddRow(int64(1), "a", 0.5))
			mock.ExpectExec(regexp.QuoteMeta(unstageQueryVector)).
				WithArgs(sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
		}

		for i := 0; i < 2; i++ {
			_, err := repo.Nearest(context.Background(), []float32{1, 0, 0})
			require.NoError(t, err)
		}

		require.Len(t, seen, 2)
		assert.NotEqual(t, seen[0], seen[1])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty store still removes the staged row", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingKeyed)
		repo.newID = func() uuid.UUID { return requestID }

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(stageQueryVector)).
			WithArgs(requestID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(nearestByStagedQuery)).
			WithArgs(requestID).
			WillReturnRows(similarityRows())
		mock.ExpectExec(regexp.QuoteMeta(unstageQueryVector)).
			WithArgs(requestID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := repo.Nearest(context.Background(), []float32{1, 0, 0})
		require.NoError(t, err)
		assert.Nil(t, result)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure rolls back", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingKeyed)
		repo.newID = func() uuid.UUID { return requestID }

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(stageQueryVector)).
			WithArgs(requestID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(nearestByStagedQuery)).
			WithArgs(requestID).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		result, err := repo.Nearest(context.Background(), []float32{1, 0, 0})
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "failed to query nearest chunk")

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingKeyed)

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		_, err := repo.Nearest(context.Background(), []float32{1, 0, 0})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChunkRepository_Nearest_UnknownStaging(t *testing.T) {
	repo, mock := newMockRepository(t, "shared")

	_, err := repo.Nearest(context.Background(), []float32{1})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_Dimension(t *testing.T) {
	t.Run("reads type modifier", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingParam)

		mock.ExpectQuery(regexp.QuoteMeta(embeddingDimensionQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(384))

		dim, err := repo.Dimension(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 384, dim)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing column", func(t *testing.T) {
		repo, mock := newMockRepository(t, config.StagingParam)

		mock.ExpectQuery(regexp.QuoteMeta(embeddingDimensionQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}))

		_, err := repo.Dimension(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "column not found")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestChunkRepository_Count(t *testing.T) {
	repo, mock := newMockRepository(t, config.StagingParam)

	mock.ExpectQuery(regexp.QuoteMeta(countChunksQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

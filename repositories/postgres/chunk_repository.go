package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/upb/chat-relay/config"
	"github.com/upb/chat-relay/models"
	"github.com/upb/chat-relay/repositories"
)

// Cosine distance is NaN when either vector has zero norm. Those rows
// score 0, matching the in-memory backend, instead of sorting first.
const (
	nearestByParamQuery = `
		SELECT id, content,
			COALESCE(NULLIF(1 - (embedding <=> $1::vector), 'NaN'::float8), 0) AS similarity
		FROM chunks
		ORDER BY similarity DESC NULLS LAST, id ASC
		LIMIT 1
	`

	stageQueryVector = `
		INSERT INTO query_staging (request_id, embedding)
		VALUES ($1, $2::vector)
	`

	nearestByStagedQuery = `
		SELECT c.id, c.content,
			COALESCE(NULLIF(1 - (c.embedding <=> s.embedding), 'NaN'::float8), 0) AS similarity
		FROM chunks c
		CROSS JOIN query_staging s
		WHERE s.request_id = $1
		ORDER BY similarity DESC NULLS LAST, c.id ASC
		LIMIT 1
	`

	unstageQueryVector = `DELETE FROM query_staging WHERE request_id = $1`

	embeddingDimensionQuery = `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'chunks'::regclass AND attname = 'embedding'
	`

	countChunksQuery = `SELECT COUNT(*) FROM chunks`
)

// ChunkRepository implements repositories.ChunkRepository over pgvector
type ChunkRepository struct {
	db      *DB
	tm      repositories.TransactionManager
	staging string
	newID   func() uuid.UUID
	logger  *zap.Logger
}

// NewChunkRepository creates a new chunk repository. staging selects how
// the query vector reaches the database: config.StagingParam binds it as
// a query parameter, config.StagingKeyed writes it to query_staging under
// a per-request key inside a transaction.
func NewChunkRepository(db *DB, tm repositories.TransactionManager, staging string, logger *zap.Logger) *ChunkRepository {
	if staging == "" {
		staging = config.StagingParam
	}
	return &ChunkRepository{
		db:      db,
		tm:      tm,
		staging: staging,
		newID:   uuid.New,
		logger:  logger,
	}
}

// Staging returns the configured staging strategy
func (r *ChunkRepository) Staging() string {
	return r.staging
}

// Nearest returns the chunk with the highest cosine similarity to vec
func (r *ChunkRepository) Nearest(ctx context.Context, vec []float32) (*models.SimilarityResult, error) {
	switch r.staging {
	case config.StagingParam:
		return r.nearestByParam(ctx, vec)
	case config.StagingKeyed:
		return r.nearestByStaging(ctx, vec)
	default:
		return nil, fmt.Errorf("unknown staging strategy %q", r.staging)
	}
}

func (r *ChunkRepository) nearestByParam(ctx context.Context, vec []float32) (*models.SimilarityResult, error) {
	executor := GetExecutor(ctx, r.db)
	result, err := scanSimilarity(executor.QueryRowContext(ctx, nearestByParamQuery, pgvector.NewVector(vec)))
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest chunk: %w", err)
	}
	return result, nil
}

func (r *ChunkRepository) nearestByStaging(ctx context.Context, vec []float32) (*models.SimilarityResult, error) {
	requestID := r.newID()

	var result *models.SimilarityResult
	err := r.tm.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		executor := GetExecutor(txCtx, r.db)

		if _, err := executor.ExecContext(txCtx, stageQueryVector, requestID, pgvector.NewVector(vec)); err != nil {
			return fmt.Errorf("failed to stage query vector: %w", err)
		}

		found, err := scanSimilarity(executor.QueryRowContext(txCtx, nearestByStagedQuery, requestID))
		if err != nil {
			return fmt.Errorf("failed to query nearest chunk: %w", err)
		}

		if _, err := executor.ExecContext(txCtx, unstageQueryVector, requestID); err != nil {
			return fmt.Errorf("failed to remove staged query vector: %w", err)
		}

		result = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("keyed retrieval completed", zap.String("request_id", requestID.String()))
	return result, nil
}

func scanSimilarity(row *sql.Row) (*models.SimilarityResult, error) {
	result := &models.SimilarityResult{}
	if err := row.Scan(&result.ChunkID, &result.Content, &result.Score); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if math.IsNaN(result.Score) {
		result.Score = 0
	}
	return result, nil
}

// Dimension reads the declared dimension of chunks.embedding. pgvector
// stores it as the column's type modifier; -1 means unconstrained.
func (r *ChunkRepository) Dimension(ctx context.Context) (int, error) {
	var dim int
	if err := r.db.QueryRowContext(ctx, embeddingDimensionQuery).Scan(&dim); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("chunks.embedding column not found")
		}
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	return dim, nil
}

// Count returns the number of stored chunks
func (r *ChunkRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countChunksQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

package repositories

import (
	"context"

	"github.com/upb/chat-relay/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// SimilaritySearcher finds the stored chunk closest to a query vector
type SimilaritySearcher interface {
	// Nearest returns the single most similar chunk by cosine similarity.
	// Equal scores are broken by lowest chunk ID. Returns nil, nil when
	// the store holds no chunks.
	Nearest(ctx context.Context, vec []float32) (*models.SimilarityResult, error)
}

// ChunkRepository is a similarity backend that also reports its shape
type ChunkRepository interface {
	SimilaritySearcher

	// Dimension returns the vector dimension the backend stores
	Dimension(ctx context.Context) (int, error)

	// Count returns the number of stored chunks
	Count(ctx context.Context) (int, error)
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

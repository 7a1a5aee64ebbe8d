// Package memory provides an in-process similarity backend with the same
// contract as the postgres repository, for development and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/upb/chat-relay/models"
)

// Staging selects how a query vector reaches the search
type Staging int

const (
	// StagingPerRequest keeps the query vector local to the call
	StagingPerRequest Staging = iota

	// StagingShared writes every query vector to one shared slot and reads
	// it back before searching. Concurrent callers overwrite each other's
	// vector, so a caller can be served the chunk meant for another query.
	StagingShared
)

// Option configures a ChunkStore
type Option func(*ChunkStore)

// WithStaging sets the query staging strategy
func WithStaging(staging Staging) Option {
	return func(s *ChunkStore) {
		s.staging = staging
	}
}

// ChunkStore is an in-memory cosine similarity store
type ChunkStore struct {
	mu        sync.RWMutex
	chunks    []models.Chunk // sorted by ID
	nextID    int64
	dimension int
	staging   Staging

	sharedMu sync.Mutex
	shared   []float32

	// stageHook runs after the query vector is staged and before it is read back
	stageHook func()
}

// NewChunkStore creates an empty store holding vectors of the given dimension
func NewChunkStore(dimension int, opts ...Option) *ChunkStore {
	s := &ChunkStore{
		dimension: dimension,
		nextID:    1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores chunks. A zero ID is replaced by the next free ID; an existing
// ID is overwritten.
func (s *ChunkStore) Add(chunks ...models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		if len(chunk.Embedding) != s.dimension {
			return fmt.Errorf("chunk %d: embedding has dimension %d, store expects %d",
				chunk.ID, len(chunk.Embedding), s.dimension)
		}
		if chunk.ID == 0 {
			chunk.ID = s.nextID
		}
		if chunk.ID >= s.nextID {
			s.nextID = chunk.ID + 1
		}

		chunk.Embedding = append([]float32(nil), chunk.Embedding...)

		i := sort.Search(len(s.chunks), func(i int) bool { return s.chunks[i].ID >= chunk.ID })
		if i < len(s.chunks) && s.chunks[i].ID == chunk.ID {
			s.chunks[i] = chunk
			continue
		}
		s.chunks = append(s.chunks, models.Chunk{})
		copy(s.chunks[i+1:], s.chunks[i:])
		s.chunks[i] = chunk
	}
	return nil
}

// Nearest returns the most similar chunk, lowest ID first among equal
// scores, or nil when the store is empty.
func (s *ChunkStore) Nearest(ctx context.Context, vec []float32) (*models.SimilarityResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vec) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, store expects %d", len(vec), s.dimension)
	}

	query := s.stage(vec)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.SimilarityResult
	for _, chunk := range s.chunks {
		score := cosineSimilarity(query, chunk.Embedding)
		// chunks are ID-ordered, so strict > keeps the lowest ID on ties
		if best == nil || score > best.Score {
			best = &models.SimilarityResult{
				ChunkID: chunk.ID,
				Content: chunk.Content,
				Score:   score,
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return best, nil
}

func (s *ChunkStore) stage(vec []float32) []float32 {
	if s.staging != StagingShared {
		query := append([]float32(nil), vec...)
		if s.stageHook != nil {
			s.stageHook()
		}
		return query
	}

	s.sharedMu.Lock()
	s.shared = append(s.shared[:0], vec...)
	s.sharedMu.Unlock()

	if s.stageHook != nil {
		s.stageHook()
	}

	s.sharedMu.Lock()
	defer s.sharedMu.Unlock()
	return append([]float32(nil), s.shared...)
}

// Dimension returns the vector dimension of the store
func (s *ChunkStore) Dimension(ctx context.Context) (int, error) {
	return s.dimension, nil
}

// Count returns the number of stored chunks
func (s *ChunkStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// cosineSimilarity returns 0 when either vector has zero magnitude
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

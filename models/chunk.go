package models

// DefaultEmbeddingDimension is the vector size of the embedding model the chunk
// table was built with (all-MiniLM-L6-v2 class models).
const DefaultEmbeddingDimension = 384

// Chunk represents a stored passage of reference text and its precomputed embedding.
// Chunks are ingested out of band and only read by the relay.
type Chunk struct {
	ID        int64     `json:"id" db:"id"`
	Content   string    `json:"content" db:"content"`
	Embedding []float32 `json:"-" db:"embedding"`
}

// TableName returns the table name for the Chunk model
func (Chunk) TableName() string {
	return "chunks"
}

// SimilarityResult pairs a chunk with its cosine similarity to a query vector.
// Score lies in [-1, 1]; higher is more similar.
type SimilarityResult struct {
	ChunkID int64   `json:"chunk_id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

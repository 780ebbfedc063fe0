package store

import (
	"time"
)

// EmbeddingRecord is one stored (model, text) embedding
type EmbeddingRecord struct {
	ID         int64     `db:"id" json:"id"`
	Model      string    `db:"model" json:"model"`
	Text       string    `db:"text" json:"text"`
	TextHash   string    `db:"text_hash" json:"text_hash"`
	Dimensions int       `db:"dimensions" json:"dimensions"`
	Embedding  []float32 `db:"embedding" json:"embedding"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SimilarityResult represents a vector similarity search result
type SimilarityResult struct {
	Record     *EmbeddingRecord `json:"record"`
	Similarity float32          `json:"similarity"`
	Distance   float32          `json:"distance"`
}

// SearchOptions contains options for vector similarity search
type SearchOptions struct {
	Model         string  `json:"model"`
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
}

// ModelCount is the number of stored embeddings for one model
type ModelCount struct {
	Model string `db:"model" json:"model"`
	Count int64  `db:"count" json:"count"`
}

// StoreStats represents database statistics
type StoreStats struct {
	TotalEmbeddings int64        `json:"total_embeddings"`
	Models          []ModelCount `json:"models"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []error       `json:"errors,omitempty"`
}

// Config contains database configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	Table           string        `yaml:"table" mapstructure:"table"`
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// Package store persists computed embeddings in PostgreSQL with pgvector.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	defaultTable     = "embeddings"
	defaultBatchSize = 500
	insertColumns    = 5
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store handles embedding storage operations with PostgreSQL + pgvector
type Store struct {
	db        *sqlx.DB
	table     string
	batchSize int
	logger    *zap.Logger
}

// NewStore creates a new embedding store instance
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	table, batchSize, err := normalizeConfig(config)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:        db,
		table:     table,
		batchSize: batchSize,
		logger:    logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Embedding store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.String("table", table),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

func normalizeConfig(config *Config) (string, int, error) {
	table := config.Table
	if table == "" {
		table = defaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return "", 0, fmt.Errorf("invalid table name: %q", table)
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	// Postgres caps bind parameters at 65535 per statement
	if max := 65535 / insertColumns; batchSize > max {
		batchSize = max
	}
	return table, batchSize, nil
}

// initialize checks database connection and ensures pgvector extension
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}

	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	s.logger.Info("Database initialized with pgvector extension")
	return nil
}

// EnsureSchema creates the embeddings table for vectors of the given width
func (s *Store) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}

	if _, err := s.db.ExecContext(ctx, schemaQuery(s.table, dimensions)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}

	s.logger.Debug("Embedding table ready", zap.String("table", s.table), zap.Int("dimensions", dimensions))
	return nil
}

// Save stores a text to vector mapping for model in batches
func (s *Store) Save(ctx context.Context, model string, vectors map[string][]float32) (*BatchInsertResult, error) {
	records := recordsFromMap(model, vectors)
	total := &BatchInsertResult{}
	start := time.Now()

	for i := 0; i < len(records); i += s.batchSize {
		end := i + s.batchSize
		if end > len(records) {
			end = len(records)
		}

		res, err := s.BatchInsert(ctx, records[i:end])
		if res != nil {
			total.Inserted += res.Inserted
			total.Duplicates += res.Duplicates
			total.Failed += res.Failed
			total.Errors = append(total.Errors, res.Errors...)
		}
		if err != nil {
			total.Failed += int64(len(records) - end)
			total.Duration = time.Since(start)
			return total, err
		}
	}

	total.Duration = time.Since(start)
	return total, nil
}

// BatchInsert adds multiple embeddings, skipping (model, text) pairs already stored
func (s *Store) BatchInsert(ctx context.Context, records []*EmbeddingRecord) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	query, args := buildInsertQuery(s.table, records)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		result.Failed = int64(len(records))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(records)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// FindSimilar finds stored embeddings closest to the given one by cosine distance
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{Limit: 5}
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}

	query, args := buildSearchQuery(s.table, formatEmbedding(embedding), options)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var record EmbeddingRecord
		var embeddingStr string

		err := rows.Scan(
			&record.ID,
			&record.Model,
			&record.Text,
			&record.TextHash,
			&record.Dimensions,
			&embeddingStr,
			&record.CreatedAt,
			&result.Similarity,
			&result.Distance,
		)
		if err != nil {
			s.logger.Error("Failed to scan similarity result", zap.Error(err))
			continue
		}

		record.Embedding, err = parseEmbedding(embeddingStr)
		if err != nil {
			s.logger.Error("Failed to parse embedding", zap.Error(err))
			continue
		}

		result.Record = &record
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

// GetStats returns per-model embedding counts
func (s *Store) GetStats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	query := fmt.Sprintf(`SELECT model, COUNT(*) AS count FROM %s GROUP BY model ORDER BY model`, s.table)
	if err := s.db.SelectContext(ctx, &stats.Models, query); err != nil {
		return nil, fmt.Errorf("failed to get embedding stats: %w", err)
	}

	for _, m := range stats.Models {
		stats.TotalEmbeddings += m.Count
	}
	return stats, nil
}

// CreateIndex creates the vector similarity index for better performance
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)); err != nil {
		return fmt.Errorf("failed to count embeddings: %w", err)
	}

	// ivfflat needs enough rows to train its lists
	if count < 1000 {
		s.logger.Info("Skipping index creation, not enough vectors", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("vector_count", count))

	query := fmt.Sprintf(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_%s_embedding
		ON %s USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, s.table, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func schemaQuery(table string, dimensions int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			model TEXT NOT NULL,
			text TEXT NOT NULL,
			text_hash CHAR(64) NOT NULL,
			dimensions INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (model, text_hash)
		)`, table, dimensions)
}

func buildInsertQuery(table string, records []*EmbeddingRecord) (string, []interface{}) {
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*insertColumns)

	for i, r := range records {
		n := i * insertColumns
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
		valueArgs = append(valueArgs,
			r.Model,
			r.Text,
			r.TextHash,
			len(r.Embedding),
			formatEmbedding(r.Embedding),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (model, text, text_hash, dimensions, embedding)
		VALUES %s
		ON CONFLICT (model, text_hash) DO NOTHING`,
		table, strings.Join(valueStrings, ","))

	return query, valueArgs
}

func buildSearchQuery(table, embeddingStr string, options *SearchOptions) (string, []interface{}) {
	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{embeddingStr, options.MinSimilarity}
	argIndex := 3

	if options.Model != "" {
		whereClause += fmt.Sprintf(" AND model = $%d", argIndex)
		args = append(args, options.Model)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT
			id, model, text, text_hash, dimensions, embedding::text,
			created_at,
			(1 - (embedding <=> $1)) AS similarity,
			(embedding <=> $1) AS distance
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, table, whereClause, argIndex)

	return query, append(args, options.Limit)
}

// recordsFromMap orders records by text so batches are deterministic
func recordsFromMap(model string, vectors map[string][]float32) []*EmbeddingRecord {
	texts := make([]string, 0, len(vectors))
	for text := range vectors {
		texts = append(texts, text)
	}
	sort.Strings(texts)

	records := make([]*EmbeddingRecord, len(texts))
	for i, text := range texts {
		records[i] = &EmbeddingRecord{
			Model:      model,
			Text:       text,
			TextHash:   TextHash(text),
			Dimensions: len(vectors[text]),
			Embedding:  vectors[text],
		}
	}
	return records
}

// TextHash is the hex sha256 of text
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// formatEmbedding converts float32 slice to PostgreSQL vector format
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding converts PostgreSQL vector format back to float32 slice
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.Trim(embeddingStr, "[]")
	if embeddingStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))

	for i, part := range parts {
		var val float32
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%g", &val); err != nil {
			return nil, fmt.Errorf("failed to parse embedding value: %w", err)
		}
		embedding[i] = val
	}

	return embedding, nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}

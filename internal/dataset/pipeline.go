package dataset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/embeddings"
	"github.com/raaihank/arguana-embed/internal/store"
)

// Sink persists embeddings computed by the pipeline
type Sink interface {
	EnsureSchema(ctx context.Context, dimensions int) error
	Save(ctx context.Context, model string, vectors map[string][]float32) (*store.BatchInsertResult, error)
	CreateIndex(ctx context.Context) error
}

// Pipeline embeds a dataset file and writes the vectors out
type Pipeline struct {
	model   *embeddings.Model
	options embeddings.EmbedOptions
	sink    Sink
	config  Config
	logger  *zap.Logger
}

// NewPipeline creates a dataset pipeline. sink may be nil.
func NewPipeline(model *embeddings.Model, options embeddings.EmbedOptions, sink Sink, config Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		model:   model,
		options: options,
		sink:    sink,
		config:  config.withDefaults(),
		logger:  logger,
	}
}

// ProcessFile embeds every text of inputPath. Vectors go to outputPath when it is
// set and to the sink when one is configured.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{}

	p.logger.Info("Starting dataset pipeline",
		zap.String("file", inputPath),
		zap.String("format", string(DetectFileFormat(inputPath))),
		zap.String("model", p.model.CacheKey()),
		zap.Int("chunk_size", p.config.ChunkSize))

	records, err := ReadTexts(inputPath, p.config)
	if err != nil {
		return result, err
	}
	result.TotalRecords = int64(len(records))

	records = p.validRecords(records, result)
	texts := uniqueTexts(records)
	result.UniqueTexts = int64(len(texts))

	vectors, err := p.embedAll(ctx, texts, result)
	if err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	if p.sink != nil && p.config.CreateIndex && result.Stored > 0 {
		if err := p.sink.CreateIndex(ctx); err != nil {
			p.logger.Warn("Failed to create vector index", zap.Error(err))
		}
	}

	if outputPath != "" {
		rows := BuildRows(p.model.CacheKey(), records, vectors)
		if err := WriteEmbeddings(outputPath, rows); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		p.logger.Info("Embeddings written", zap.String("file", outputPath), zap.Int("rows", len(rows)))
	}

	result.Duration = time.Since(start)

	p.logger.Info("Dataset pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("unique_texts", result.UniqueTexts),
		zap.Int64("embedded", result.Embedded),
		zap.Int64("stored", result.Stored),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

func (p *Pipeline) embedAll(ctx context.Context, texts []string, result *ProcessingResult) (map[string][]float32, error) {
	all := make(map[string][]float32, len(texts))
	schemaReady := false

	for offset := 0; offset < len(texts); offset += p.config.ChunkSize {
		end := offset + p.config.ChunkSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[offset:end]

		opts := p.options
		if progress := p.options.Progress; progress != nil {
			base, total := offset, len(texts)
			opts.Progress = func(done, _ int) { progress(base+done, total) }
		}

		embedStart := time.Now()
		vectors, err := embeddings.GetEmbeddings(ctx, p.model, chunk, opts)
		result.EmbeddingTime += time.Since(embedStart)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return nil, fmt.Errorf("embedding texts %d-%d: %w", offset, end, err)
		}
		result.Embedded += int64(len(vectors))
		for text, vec := range vectors {
			all[text] = vec
		}

		if p.sink == nil || len(vectors) == 0 {
			continue
		}

		dbStart := time.Now()
		if !schemaReady {
			if err := p.sink.EnsureSchema(ctx, len(vectors[chunk[0]])); err != nil {
				return nil, err
			}
			schemaReady = true
		}
		saved, err := p.sink.Save(ctx, p.model.CacheKey(), vectors)
		result.DatabaseTime += time.Since(dbStart)
		if saved != nil {
			result.Stored += saved.Inserted
		}
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return nil, fmt.Errorf("storing texts %d-%d: %w", offset, end, err)
		}
	}
	return all, nil
}

func (p *Pipeline) validRecords(records []TextRecord, result *ProcessingResult) []TextRecord {
	valid := records[:0:0]
	for _, rec := range records {
		if strings.TrimSpace(rec.Text) == "" {
			result.Skipped++
			continue
		}
		if p.config.MaxTextLength > 0 && len(rec.Text) > p.config.MaxTextLength {
			p.logger.Debug("Skipping record: text too long", zap.String("id", rec.ID), zap.Int("length", len(rec.Text)))
			result.Skipped++
			continue
		}
		valid = append(valid, rec)
	}
	return valid
}

func uniqueTexts(records []TextRecord) []string {
	seen := make(map[string]struct{}, len(records))
	texts := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.Text]; ok {
			continue
		}
		seen[rec.Text] = struct{}{}
		texts = append(texts, rec.Text)
	}
	return texts
}

package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/segmentio/parquet-go"
)

// BuildRows orders a text to vector mapping by first appearance in records
func BuildRows(model string, records []TextRecord, vectors map[string][]float32) []EmbeddingRow {
	seen := make(map[string]struct{}, len(vectors))
	rows := make([]EmbeddingRow, 0, len(vectors))
	for _, rec := range records {
		vec, ok := vectors[rec.Text]
		if !ok {
			continue
		}
		if _, dup := seen[rec.Text]; dup {
			continue
		}
		seen[rec.Text] = struct{}{}
		rows = append(rows, EmbeddingRow{ID: rec.ID, Model: model, Text: rec.Text, Embedding: vec})
	}
	return rows
}

// WriteEmbeddings writes rows as Parquet or JSON lines, chosen by the file extension
func WriteEmbeddings(filePath string, rows []EmbeddingRow) error {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	switch format := DetectFileFormat(filePath); format {
	case FormatParquet:
		return writeParquet(filePath, rows)
	case FormatJSON:
		return writeJSON(filePath, rows)
	default:
		return fmt.Errorf("unsupported output format: %s (use .parquet or .jsonl)", format)
	}
}

func writeParquet(filePath string, rows []EmbeddingRow) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create Parquet file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file, parquet.SchemaOf(new(EmbeddingRow)))
	for i := range rows {
		if err := writer.Write(&rows[i]); err != nil {
			return fmt.Errorf("failed to write Parquet row %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize Parquet file: %w", err)
	}
	return file.Close()
}

func writeJSON(filePath string, rows []EmbeddingRow) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	encoder := json.NewEncoder(buf)
	for i := range rows {
		if err := encoder.Encode(&rows[i]); err != nil {
			return fmt.Errorf("failed to write JSON row %d: %w", i, err)
		}
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	return file.Close()
}

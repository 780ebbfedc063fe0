package dataset

import (
	"path/filepath"
	"strings"
	"time"
)

// TextRecord is one input row to embed
type TextRecord struct {
	ID   string `parquet:"id,optional" json:"id,omitempty"`
	Text string `parquet:"text" json:"text"`
}

// EmbeddingRow is one output row
type EmbeddingRow struct {
	ID        string    `parquet:"id,optional" json:"id,omitempty"`
	Model     string    `parquet:"model" json:"model"`
	Text      string    `parquet:"text" json:"text"`
	Embedding []float32 `parquet:"embedding" json:"embedding"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords  int64         `json:"total_records"`
	Skipped       int64         `json:"skipped"`
	UniqueTexts   int64         `json:"unique_texts"`
	Embedded      int64         `json:"embedded"`
	Stored        int64         `json:"stored"`
	Duration      time.Duration `json:"duration"`
	EmbeddingTime time.Duration `json:"embedding_time"`
	DatabaseTime  time.Duration `json:"database_time"`
	Errors        []string      `json:"errors,omitempty"`
}

// Config contains dataset pipeline configuration
type Config struct {
	TextColumn    string `yaml:"text_column" mapstructure:"text_column"`         // text
	IDColumn      string `yaml:"id_column" mapstructure:"id_column"`             // id
	ChunkSize     int    `yaml:"chunk_size" mapstructure:"chunk_size"`           // 10000
	MaxTextLength int    `yaml:"max_text_length" mapstructure:"max_text_length"` // 0 = unlimited
	CreateIndex   bool   `yaml:"create_index" mapstructure:"create_index"`       // true
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TextColumn == "" {
		out.TextColumn = "text"
	}
	if out.IDColumn == "" {
		out.IDColumn = "id"
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = 10000
	}
	return out
}

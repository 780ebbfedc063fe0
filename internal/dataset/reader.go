package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// ReadTexts loads every record of a CSV, Parquet or JSON-lines file
func ReadTexts(filePath string, config Config) ([]TextRecord, error) {
	config = config.withDefaults()

	switch format := DetectFileFormat(filePath); format {
	case FormatCSV:
		return readCSV(filePath, config)
	case FormatParquet:
		return readParquet(filePath, config)
	case FormatJSON:
		return readJSON(filePath, config)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

func readCSV(filePath string, config Config) ([]TextRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	textCol, idCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case config.TextColumn:
			textCol = i
		case config.IDColumn:
			idCol = i
		}
	}
	if textCol < 0 {
		return nil, fmt.Errorf("CSV header %v has no %q column", header, config.TextColumn)
	}

	var records []TextRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}
		if textCol >= len(row) {
			return nil, fmt.Errorf("CSV line %d has %d fields, want at least %d", line, len(row), textCol+1)
		}

		rec := TextRecord{Text: row[textCol]}
		if idCol >= 0 && idCol < len(row) {
			rec.ID = row[idCol]
		}
		records = append(records, rec)
	}
	return records, nil
}

// readParquet selects the configured text and id leaf columns by name, so
// files written by other tools need not share the TextRecord layout.
func readParquet(filePath string, config Config) ([]TextRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	schema := reader.Schema()
	textLeaf, ok := schema.Lookup(config.TextColumn)
	if !ok {
		return nil, fmt.Errorf("parquet schema %s has no %q column", schema.Name(), config.TextColumn)
	}
	idCol := -1
	if idLeaf, ok := schema.Lookup(config.IDColumn); ok {
		idCol = idLeaf.ColumnIndex
	}

	var records []TextRecord
	rows := make([]parquet.Row, 64)
	for {
		n, err := reader.ReadRows(rows)
		for _, row := range rows[:n] {
			var rec TextRecord
			for _, v := range row {
				if v.IsNull() {
					continue
				}
				switch v.Column() {
				case textLeaf.ColumnIndex:
					rec.Text = v.String()
				case idCol:
					rec.ID = v.String()
				}
			}
			records = append(records, rec)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read Parquet record %d: %w", len(records), err)
		}
	}
	return records, nil
}

// readJSON reads one JSON object per line, taking the configured text and id fields
func readJSON(filePath string, config Config) ([]TextRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	var records []TextRecord
	for {
		var obj map[string]interface{}
		err := decoder.Decode(&obj)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON record %d: %w", len(records), err)
		}

		text, ok := obj[config.TextColumn].(string)
		if !ok {
			return nil, fmt.Errorf("JSON record %d has no string %q field", len(records), config.TextColumn)
		}
		rec := TextRecord{Text: text}
		if id, ok := obj[config.IDColumn]; ok && id != nil {
			rec.ID = fmt.Sprint(id)
		}
		records = append(records, rec)
	}
	return records, nil
}

package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// rowFunc receives one CSV record. get looks a column up by its normalised
// header name and returns "" when the column is absent.
type rowFunc func(rowNum int, get func(col string) string)

// walkCSV reads a header-based CSV export. Header names pass through
// normalise before lookup. Malformed rows become warnings on result.
func walkCSV(data []byte, normalise func(string) string, required string, result *ImportResult, fn rowFunc) error {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("importer: read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, col := range header {
		cols[normalise(col)] = i
	}
	if _, ok := cols[required]; !ok {
		return fmt.Errorf("importer: missing required column: %s", required)
	}

	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if len(row) != len(header) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)", rowNum, len(header), len(row)))
			continue
		}
		fn(rowNum, func(col string) string {
			if idx, ok := cols[col]; ok {
				return row[idx]
			}
			return ""
		})
	}
}

package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"datalayer/internal/domain"
)

// JSONCodec handles JSON import/export of records
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse imports records from a JSON array
func (c *JSONCodec) Parse(r io.Reader) ([]domain.Record, error) {
	var records []domain.Record
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	for i := range records {
		if records[i].Path == "" {
			return nil, fmt.Errorf("record %d: path is required", i)
		}
		records[i].Payload = normalizeNumbers(records[i].Payload)
	}
	return records, nil
}

// Export exports records to JSON
func (c *JSONCodec) Export(records []domain.Record, w io.Writer) error {
	if records == nil {
		records = []domain.Record{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// normalizeNumbers turns json.Number values into int64 or float64
func normalizeNumbers(m domain.DataMap) domain.DataMap {
	for k, v := range m {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			m[k] = i
		} else if f, err := n.Float64(); err == nil {
			m[k] = f
		}
	}
	return m
}

// ParsePayload decodes a single JSON object into a record payload
func (c *JSONCodec) ParsePayload(r io.Reader) (domain.DataMap, error) {
	var payload domain.DataMap
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse JSON payload: %w", err)
	}
	if payload == nil {
		payload = domain.DataMap{}
	}
	return normalizeNumbers(payload), nil
}

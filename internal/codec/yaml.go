package codec

import (
	"bytes"
	"fmt"
	"io"

	"datalayer/internal/domain"

	"gopkg.in/yaml.v3"
)

// YAMLCodec handles YAML import/export of records
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlDocument accepts either a single record (path + data) or a list
type yamlDocument struct {
	Path    string       `yaml:"path,omitempty"`
	Data    yaml.Node    `yaml:"data,omitempty"`
	Records []yamlRecord `yaml:"records,omitempty"`
}

type yamlRecord struct {
	Path   string         `yaml:"path"`
	Data   map[string]any `yaml:"data,omitempty"`
	Source string         `yaml:"source,omitempty"`
}

// Parse imports records from YAML. A document holding `path` and `data` is a
// single record; a document holding `records` is a batch.
func (c *YAMLCodec) Parse(r io.Reader) ([]domain.Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("failed to parse YAML: empty document")
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if doc.Path != "" {
		var data map[string]any
		if !doc.Data.IsZero() {
			if err := doc.Data.Decode(&data); err != nil {
				return nil, fmt.Errorf("record %s: %w", doc.Path, err)
			}
		}
		return []domain.Record{{Path: domain.Path(doc.Path), Payload: toDataMap(data)}}, nil
	}

	records := make([]domain.Record, 0, len(doc.Records))
	for i, yr := range doc.Records {
		if yr.Path == "" {
			return nil, fmt.Errorf("record %d: path is required", i)
		}
		records = append(records, domain.Record{
			Path:    domain.Path(yr.Path),
			Payload: toDataMap(yr.Data),
			Source:  domain.NodeID(yr.Source),
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("failed to parse YAML: no path or records")
	}
	return records, nil
}

// Export exports records to YAML
func (c *YAMLCodec) Export(records []domain.Record, w io.Writer) error {
	doc := struct {
		Records []yamlRecord `yaml:"records"`
	}{Records: make([]yamlRecord, 0, len(records))}

	for _, rec := range records {
		data := make(map[string]any, len(rec.Payload))
		for k, v := range rec.Payload {
			if h, ok := v.(domain.AssetHandle); ok {
				v = h.Digest
			}
			data[k] = v
		}
		doc.Records = append(doc.Records, yamlRecord{
			Path:   string(rec.Path),
			Data:   data,
			Source: string(rec.Source),
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}

func toDataMap(m map[string]any) domain.DataMap {
	if m == nil {
		return domain.DataMap{}
	}
	out := make(domain.DataMap, len(m))
	for k, v := range m {
		if i, ok := v.(int); ok {
			v = int64(i)
		}
		out[k] = v
	}
	return out
}

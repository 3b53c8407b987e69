package codec

import (
	"io"

	"datalayer/internal/domain"
)

// Importer interface for importing record batches from various formats
type Importer interface {
	Parse(r io.Reader) ([]domain.Record, error)
	Format() string
}

// Exporter interface for exporting record batches to various formats
type Exporter interface {
	Export(records []domain.Record, w io.Writer) error
	Format() string
}

// ForFormat returns the codec registered for a format identifier
func ForFormat(format string) (interface {
	Importer
	Exporter
}, bool) {
	switch format {
	case "json":
		return NewJSONCodec(), true
	case "yaml", "yml":
		return NewYAMLCodec(), true
	}
	return nil, false
}

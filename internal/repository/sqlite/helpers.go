package sqlite

import (
	"database/sql"
	"time"

	"datalayer/internal/domain"
	"datalayer/internal/repository"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeToNull converts a zero time to NULL
func timeToNull(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// boolToInt converts bool to SQLite integer
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// Row Scanners
// ============================================================================

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var (
		path      string
		payload   []byte
		source    sql.NullString
		updatedAt time.Time
	)
	if err := row.Scan(&path, &payload, &source, &updatedAt); err != nil {
		return nil, err
	}

	data, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &domain.Record{
		Path:      domain.Path(path),
		Payload:   data,
		Source:    domain.NodeID(nullToString(source)),
		UpdatedAt: updatedAt,
	}, nil
}

func scanPeer(row rowScanner) (*repository.Peer, error) {
	var (
		id, displayName string
		address         sql.NullString
		static          int
		lastSeen        sql.NullTime
	)
	if err := row.Scan(&id, &displayName, &address, &static, &lastSeen); err != nil {
		return nil, err
	}

	peer := &repository.Peer{
		ID:          domain.NodeID(id),
		DisplayName: displayName,
		Address:     nullToString(address),
		Static:      static != 0,
	}
	if lastSeen.Valid {
		peer.LastSeen = lastSeen.Time
	}
	return peer, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"datalayer/internal/codec"
	"datalayer/internal/domain"
	"datalayer/internal/repository"

	_ "modernc.org/sqlite"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db          *sql.DB
	compression Compression
}

// Option configures a Repository
type Option func(*Repository)

// WithCompression forces one asset compression algorithm instead of choosing
// per blob
func WithCompression(c Compression) Option {
	return func(r *Repository) {
		r.compression = c
	}
}

// New creates a new SQLite repository
func New(dbPath string, opts ...Option) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	repo := &Repository{db: db}
	for _, opt := range opts {
		opt(repo)
	}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		path TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		source TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assets (
		digest TEXT PRIMARY KEY,
		compression TEXT NOT NULL DEFAULT 'none',
		size INTEGER NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS peers (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		address TEXT,
		static INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME
	);

	CREATE TABLE IF NOT EXISTS capabilities (
		peer_id TEXT NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (peer_id, name),
		FOREIGN KEY (peer_id) REFERENCES peers(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_capabilities_name ON capabilities(name);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// ============================================================================
// Records
// ============================================================================

// PutRecord stores rec, replacing any record at the same path
func (r *Repository) PutRecord(ctx context.Context, rec domain.Record) error {
	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO records (path, payload, source, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			payload = excluded.payload,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, string(rec.Path), payload, stringToNull(string(rec.Source)), rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.Path, err)
	}
	return nil
}

// GetRecord returns the record at path
func (r *Repository) GetRecord(ctx context.Context, path domain.Path) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT path, payload, source, updated_at FROM records WHERE path = ?
	`, string(path))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", path, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", path, err)
	}
	return rec, nil
}

// DeleteRecord removes the record at path and returns what was deleted
func (r *Repository) DeleteRecord(ctx context.Context, path domain.Path) (*domain.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT path, payload, source, updated_at FROM records WHERE path = ?
	`, string(path))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", path, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", path, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE path = ?", string(path)); err != nil {
		return nil, fmt.Errorf("failed to delete record %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return rec, nil
}

// ListRecords returns all records ordered by path
func (r *Repository) ListRecords(ctx context.Context) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT path, payload, source, updated_at FROM records ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// ============================================================================
// Assets
// ============================================================================

// PutAsset stores data under its content address
func (r *Repository) PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error) {
	handle := domain.HandleFor(data)

	stored, c, err := compress(data, r.compression)
	if err != nil {
		return domain.AssetHandle{}, fmt.Errorf("failed to compress asset %s: %w", handle.Short(), err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO assets (digest, compression, size, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING
	`, handle.Digest, string(c), len(data), stored)
	if err != nil {
		return domain.AssetHandle{}, fmt.Errorf("failed to put asset %s: %w", handle.Short(), err)
	}
	return handle, nil
}

// GetAsset returns the original bytes of the asset
func (r *Repository) GetAsset(ctx context.Context, handle domain.AssetHandle) ([]byte, error) {
	var (
		c    string
		size int
		data []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT compression, size, data FROM assets WHERE digest = ?
	`, handle.Digest).Scan(&c, &size, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", handle.Short(), repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", handle.Short(), err)
	}

	out, err := decompress(data, Compression(c), size)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", handle.Short(), err)
	}
	return out, nil
}

// StatAsset returns metadata about a stored asset
func (r *Repository) StatAsset(ctx context.Context, handle domain.AssetHandle) (*repository.AssetInfo, error) {
	info := &repository.AssetInfo{Handle: handle}
	var createdAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT compression, size, length(data), created_at FROM assets WHERE digest = ?
	`, handle.Digest).Scan(&info.Compression, &info.Size, &info.StoredSize, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", handle.Short(), repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat asset %s: %w", handle.Short(), err)
	}
	if createdAt.Valid {
		info.CreatedAt = createdAt.Time
	}
	return info, nil
}

// ============================================================================
// Peers
// ============================================================================

// UpsertPeer creates or updates a peer and replaces its capability set
func (r *Repository) UpsertPeer(ctx context.Context, peer *repository.Peer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO peers (id, display_name, address, static, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			address = COALESCE(excluded.address, peers.address),
			static = MAX(peers.static, excluded.static),
			last_seen = COALESCE(excluded.last_seen, peers.last_seen)
	`, string(peer.ID), peer.DisplayName, stringToNull(peer.Address), boolToInt(peer.Static), timeToNull(peer.LastSeen))
	if err != nil {
		return fmt.Errorf("failed to upsert peer %s: %w", peer.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM capabilities WHERE peer_id = ?", string(peer.ID)); err != nil {
		return fmt.Errorf("failed to clear capabilities for %s: %w", peer.ID, err)
	}
	for _, name := range peer.Capabilities {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO capabilities (peer_id, name) VALUES (?, ?)
		`, string(peer.ID), string(name)); err != nil {
			return fmt.Errorf("failed to insert capability %s for %s: %w", name, peer.ID, err)
		}
	}

	return tx.Commit()
}

// GetPeer returns one peer with its capabilities
func (r *Repository) GetPeer(ctx context.Context, id domain.NodeID) (*repository.Peer, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, address, static, last_seen FROM peers WHERE id = ?
	`, string(id))
	peer, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("peer %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get peer %s: %w", id, err)
	}

	caps, err := r.loadCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	peer.Capabilities = caps[peer.ID]
	return peer, nil
}

// ListPeers returns all peers ordered by ID
func (r *Repository) ListPeers(ctx context.Context) ([]repository.Peer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, address, static, last_seen FROM peers ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	defer rows.Close()

	peers := make([]repository.Peer, 0)
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}
		peers = append(peers, *peer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating peers: %w", err)
	}
	rows.Close()

	caps, err := r.loadCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	for i := range peers {
		peers[i].Capabilities = caps[peers[i].ID]
	}
	return peers, nil
}

// DeletePeer removes a peer and its capabilities
func (r *Repository) DeletePeer(ctx context.Context, id domain.NodeID) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM peers WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete peer %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("peer %s: %w", id, repository.ErrNotFound)
	}
	return nil
}

func (r *Repository) loadCapabilities(ctx context.Context) (map[domain.NodeID][]domain.CapabilityName, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT peer_id, name FROM capabilities ORDER BY peer_id, name")
	if err != nil {
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}
	defer rows.Close()

	caps := make(map[domain.NodeID][]domain.CapabilityName)
	for rows.Next() {
		var peerID, name string
		if err := rows.Scan(&peerID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		caps[domain.NodeID(peerID)] = append(caps[domain.NodeID(peerID)], domain.CapabilityName(name))
	}
	return caps, rows.Err()
}

func encodePayload(payload domain.DataMap) ([]byte, error) {
	if payload == nil {
		payload = domain.DataMap{}
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (domain.DataMap, error) {
	payload := domain.DataMap{}
	if err := codec.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return payload, nil
}

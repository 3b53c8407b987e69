package repository

import (
	"context"
	"errors"
	"time"

	"datalayer/internal/domain"
)

// ErrNotFound is returned when a record, asset or peer does not exist
var ErrNotFound = errors.New("not found")

// Peer is a device known to the relay, either connected at some point or
// statically paired
type Peer struct {
	ID           domain.NodeID           `json:"id" yaml:"id"`
	DisplayName  string                  `json:"display_name" yaml:"display_name"`
	Address      string                  `json:"address,omitempty" yaml:"address,omitempty"`
	Static       bool                    `json:"static" yaml:"static"`
	Capabilities []domain.CapabilityName `json:"capabilities" yaml:"capabilities"`
	LastSeen     time.Time               `json:"last_seen,omitempty" yaml:"-"`
}

// Node returns the peer as a domain node
func (p Peer) Node() domain.PeerNode {
	return domain.PeerNode{ID: p.ID, DisplayName: p.DisplayName}
}

// AssetInfo describes a stored blob without its data
type AssetInfo struct {
	Handle      domain.AssetHandle `json:"handle"`
	Size        int                `json:"size"`
	StoredSize  int                `json:"stored_size"`
	Compression string             `json:"compression"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Repository defines the interface for relay data access
type Repository interface {
	// Records are last-write-wins per path
	PutRecord(ctx context.Context, rec domain.Record) error
	GetRecord(ctx context.Context, path domain.Path) (*domain.Record, error)
	DeleteRecord(ctx context.Context, path domain.Path) (*domain.Record, error)
	ListRecords(ctx context.Context) ([]domain.Record, error)

	// Assets are content addressed; storing the same bytes twice is a no-op
	PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error)
	GetAsset(ctx context.Context, handle domain.AssetHandle) ([]byte, error)
	StatAsset(ctx context.Context, handle domain.AssetHandle) (*AssetInfo, error)

	// Peers and their advertised capabilities
	UpsertPeer(ctx context.Context, peer *Peer) error
	GetPeer(ctx context.Context, id domain.NodeID) (*Peer, error)
	ListPeers(ctx context.Context) ([]Peer, error)
	DeletePeer(ctx context.Context, id domain.NodeID) error

	// Close releases resources
	Close() error
}

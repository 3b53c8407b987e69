package domain

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// AssetHandle is an opaque reference to a remote binary blob. Resolving it
// requires a round trip to the transport.
type AssetHandle struct {
	Digest string `json:"digest" cbor:"digest"`
}

// ErrInvalidAssetHandle is returned when a digest is not a blake2b-256 hex string
var ErrInvalidAssetHandle = errors.New("invalid asset handle")

// HandleFor returns the content address of data
func HandleFor(data []byte) AssetHandle {
	sum := blake2b.Sum256(data)
	return AssetHandle{Digest: hex.EncodeToString(sum[:])}
}

// ParseAssetHandle validates a digest string
func ParseAssetHandle(digest string) (AssetHandle, error) {
	if len(digest) != blake2b.Size256*2 {
		return AssetHandle{}, fmt.Errorf("%w: %q", ErrInvalidAssetHandle, digest)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return AssetHandle{}, fmt.Errorf("%w: %q", ErrInvalidAssetHandle, digest)
	}
	return AssetHandle{Digest: digest}, nil
}

// Valid reports whether the handle carries a well-formed digest
func (h AssetHandle) Valid() bool {
	_, err := ParseAssetHandle(h.Digest)
	return err == nil
}

// Short returns an abbreviated digest for logs
func (h AssetHandle) Short() string {
	if len(h.Digest) > 12 {
		return h.Digest[:12]
	}
	return h.Digest
}

func (h AssetHandle) String() string {
	return "Asset[" + h.Short() + "]"
}

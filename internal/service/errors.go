package service

import (
	"errors"
	"fmt"

	"datalayer/internal/domain"
)

var (
	// ErrTransportUnreachable means a subscription or query could not reach
	// the peer-sync service. It is surfaced to the session owner, never retried
	// internally.
	ErrTransportUnreachable = errors.New("transport unreachable")

	// ErrAssetNotFound means the transport knows no blob for the handle
	ErrAssetNotFound = errors.New("asset not found")

	// ErrAssetDecode means the blob was retrieved but is not a valid image
	ErrAssetDecode = errors.New("asset decode error")

	// ErrUnrecognizedEvent marks an event kind the router does not classify
	ErrUnrecognizedEvent = errors.New("unrecognized event")
)

// ResolveError reports the failure of one asset resolution attempt
type ResolveError struct {
	Handle domain.AssetHandle
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Handle, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Unreachable wraps err so that errors.Is(err, ErrTransportUnreachable) holds
func Unreachable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrTransportUnreachable)
	}
	if errors.Is(err, ErrTransportUnreachable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransportUnreachable, err)
}

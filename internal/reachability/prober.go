// Package reachability decides which static peers are up. A Monitor polls a
// Prober on an interval and reports changes to the relay broker, which folds
// them into the reachable capability snapshot.
package reachability

import (
	"context"
	"time"

	"datalayer/internal/domain"
	"datalayer/internal/repository"
)

// Result is the outcome of probing one peer
type Result struct {
	Peer    domain.NodeID `json:"peer"`
	Address string        `json:"address"`
	Up      bool          `json:"up"`
	Latency time.Duration `json:"latency,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Prober checks a batch of peers. It returns one result per peer that has
// an address; an error means the probe itself could not run.
type Prober interface {
	Name() string
	Probe(ctx context.Context, peers []repository.Peer) ([]Result, error)
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"datalayer/internal/domain"
)

// NoDeviceMessage is shown when no reachable peer provides any requested capability
const NoDeviceMessage = "No connected device was found for the given capabilities"

// CapabilityDirectory answers which reachable peers advertise a capability.
// Every query fetches a fresh snapshot; nothing is cached.
type CapabilityDirectory struct {
	source    CapabilitySource
	filter    domain.NodeFilter
	presenter Presenter
	eventBus  *EventBus
	logger    *slog.Logger
}

// NewCapabilityDirectory creates a directory querying source for reachable peers
func NewCapabilityDirectory(source CapabilitySource, presenter Presenter, eventBus *EventBus, logger *slog.Logger) *CapabilityDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityDirectory{
		source:    source,
		filter:    domain.FilterReachable,
		presenter: presenter,
		eventBus:  eventBus,
		logger:    logger.With("component", "directory"),
	}
}

// FindNodes returns the union of peers advertising any of names. Names absent
// from the snapshot contribute nothing. An empty request returns the empty
// set without querying the transport.
func (d *CapabilityDirectory) FindNodes(ctx context.Context, names ...domain.CapabilityName) (domain.NodeSet, error) {
	nodes := domain.NewNodeSet()
	if len(names) == 0 {
		return nodes, nil
	}

	snapshot, err := d.source.CapabilitySnapshot(ctx, d.filter)
	if err != nil {
		return nil, Unreachable("capability snapshot", err)
	}
	if len(snapshot) == 0 {
		return nodes, nil
	}

	for _, name := range names {
		if info, ok := snapshot[name]; ok {
			nodes.Union(info.Nodes)
		}
	}
	return nodes, nil
}

// Discover runs FindNodes and shows the outcome as a toast. An empty result is
// an informational outcome, reported with NoDeviceMessage.
func (d *CapabilityDirectory) Discover(ctx context.Context, names ...domain.CapabilityName) (domain.NodeSet, error) {
	nodes, err := d.FindNodes(ctx, names...)
	if err != nil {
		d.logger.Warn("discovery failed", "capabilities", names, "error", err)
		d.eventBus.Publish(Event{Type: EventDiscoveryFailed, Payload: map[string]string{"error": err.Error()}})
		if d.presenter != nil {
			d.presenter.ShowToast(fmt.Sprintf("Discovery failed: %v", err))
		}
		return nil, err
	}

	message := DiscoveryMessage(nodes)
	d.logger.Info("connected nodes", "capabilities", names, "count", nodes.Len(), "nodes", strings.Join(nodes.DisplayNames(), ","))
	d.eventBus.Publish(Event{
		Type:    EventDiscoveryComplete,
		Payload: map[string]any{"capabilities": names, "nodes": nodes.DisplayNames()},
	})
	if d.presenter != nil {
		d.presenter.ShowToast(message)
	}
	return nodes, nil
}

// DiscoveryMessage renders a discovery result for the user
func DiscoveryMessage(nodes domain.NodeSet) string {
	if nodes.Len() == 0 {
		return NoDeviceMessage
	}
	return "Connected nodes: " + strings.Join(nodes.DisplayNames(), ", ")
}

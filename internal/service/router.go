package service

import (
	"context"
	"fmt"
	"log/slog"

	"datalayer/internal/domain"
)

// RecordPaths holds the record paths the router recognizes
type RecordPaths struct {
	// Image is the path whose records carry an AssetHandle under ImageKey
	Image    domain.Path
	ImageKey string
	// Data paths have their payload logged verbatim
	Data []domain.Path
}

// DefaultRecordPaths returns the paths used by the paired handheld app
func DefaultRecordPaths() RecordPaths {
	return RecordPaths{
		Image:    "/image",
		ImageKey: "photo",
		Data:     []domain.Path{"/count"},
	}
}

func (p RecordPaths) isData(path domain.Path) bool {
	for _, d := range p.Data {
		if d == path {
			return true
		}
	}
	return false
}

// ActionType is what the router does with a classified event
type ActionType int

const (
	// ActionLog forwards one entry to the data log
	ActionLog ActionType = iota
	// ActionResolve starts an asynchronous asset resolution
	ActionResolve
)

func (t ActionType) String() string {
	switch t {
	case ActionLog:
		return "log"
	case ActionResolve:
		return "resolve"
	default:
		return fmt.Sprintf("action(%d)", int(t))
	}
}

// Action describes the single effect of one event
type Action struct {
	Type   ActionType
	Entry  domain.LogEntry
	Handle domain.AssetHandle
}

func logAction(kind, detail string) Action {
	return Action{Type: ActionLog, Entry: domain.LogEntry{Kind: kind, Detail: detail}}
}

// Classify maps an event to exactly one action. It has no side effects.
func Classify(event domain.InboundEvent, paths RecordPaths) Action {
	switch e := event.(type) {
	case domain.RecordChanged:
		return classifyChanged(e, paths)
	case domain.RecordDeleted:
		return logAction(domain.LogKindRecordDeleted, e.Describe())
	case domain.MessageReceived:
		return logAction(domain.LogKindMessage, e.Describe())
	case domain.CapabilityChanged:
		return logAction(domain.LogKindCapabilityChanged, e.Describe())
	case nil:
		return logAction(domain.LogKindUnknown, "Type = <nil>")
	default:
		return logAction(domain.LogKindUnknown,
			fmt.Sprintf("Type = %s: %s", event.Kind(), event.Describe()))
	}
}

func classifyChanged(e domain.RecordChanged, paths RecordPaths) Action {
	path := e.Record.Path
	switch {
	case path == paths.Image:
		handle, ok := e.Record.Payload.Asset(paths.ImageKey)
		if !ok {
			return logAction(domain.LogKindRecordChanged,
				fmt.Sprintf("missing asset %q: %s", paths.ImageKey, e.Describe()))
		}
		return Action{Type: ActionResolve, Handle: handle}
	case paths.isData(path):
		return logAction(domain.LogKindRecordChanged, e.Describe())
	default:
		return logAction(domain.LogKindUnrecognizedPath,
			fmt.Sprintf("unrecognized path %s: %s", path, e.Describe()))
	}
}

// AsyncResolver starts a resolution without blocking the caller
type AsyncResolver interface {
	ResolveAsync(ctx context.Context, handle domain.AssetHandle) <-chan ResolveResult
}

// Router classifies inbound events and dispatches them to the data log or
// the asset resolver. It keeps no per-event state.
type Router struct {
	paths     RecordPaths
	presenter Presenter
	resolver  AsyncResolver
	ctx       context.Context
	logger    *slog.Logger
}

// NewRouter creates a router. ctx bounds the resolutions it starts; it is
// not tied to the session, so deactivation leaves in-flight work alone.
func NewRouter(ctx context.Context, paths RecordPaths, presenter Presenter, resolver AsyncResolver, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		paths:     paths,
		presenter: presenter,
		resolver:  resolver,
		ctx:       ctx,
		logger:    logger.With("component", "router"),
	}
}

// OnEvent dispatches one event. It returns after at most one presenter call
// or after handing the asset to the resolver goroutine.
func (r *Router) OnEvent(event domain.InboundEvent) {
	action := Classify(event, r.paths)

	switch action.Type {
	case ActionResolve:
		r.logger.Debug("resolving asset", "handle", action.Handle.Short())
		r.resolver.ResolveAsync(r.ctx, action.Handle)
	default:
		if action.Entry.Kind == domain.LogKindUnknown {
			r.logger.Warn("unrecognized event", "error", ErrUnrecognizedEvent, "detail", action.Entry.Detail)
		}
		r.presenter.AppendLogEntry(action.Entry.Kind, action.Entry.Detail)
	}
}

// HandleRecords is the record stream subscription handler
func (r *Router) HandleRecords(event domain.InboundEvent) { r.OnEvent(event) }

// HandleMessages is the message stream subscription handler
func (r *Router) HandleMessages(event domain.InboundEvent) { r.OnEvent(event) }

// HandleCapabilities is the capability stream subscription handler
func (r *Router) HandleCapabilities(event domain.InboundEvent) { r.OnEvent(event) }

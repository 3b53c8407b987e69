package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"datalayer/internal/codec"
	"datalayer/internal/domain"
	"datalayer/internal/reachability"
	"datalayer/internal/relay"
	"datalayer/internal/repository"
	"datalayer/internal/service"
)

// OriginHTTP is the record source used for writes made through the HTTP API
const OriginHTTP domain.NodeID = "http"

const maxUploadBytes = 32 << 20

// ProbeTrigger runs reachability probes on demand (the reachability monitor)
type ProbeTrigger interface {
	TriggerProbe(ctx context.Context) ([]reachability.Result, error)
	LastResults() []reachability.Result
}

// RelayHandler exposes the relay broker over HTTP
type RelayHandler struct {
	broker *relay.Broker
	paths  service.RecordPaths
	probes ProbeTrigger
	logger *slog.Logger
}

// NewRelayHandler creates a new relay handler. paths names where uploaded
// images are announced.
func NewRelayHandler(broker *relay.Broker, paths service.RecordPaths, logger *slog.Logger) *RelayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayHandler{broker: broker, paths: paths, logger: logger.With("component", "api")}
}

// SetProbeTrigger enables the reachability endpoints
func (h *RelayHandler) SetProbeTrigger(p ProbeTrigger) {
	h.probes = p
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// PeerView is one peer in the peers listing
type PeerView struct {
	ID           domain.NodeID           `json:"id"`
	DisplayName  string                  `json:"display_name"`
	Address      string                  `json:"address,omitempty"`
	Static       bool                    `json:"static"`
	Connected    bool                    `json:"connected"`
	Capabilities []domain.CapabilityName `json:"capabilities"`
}

// MessageRequest is the body of POST /api/messages
type MessageRequest struct {
	Path   domain.Path   `json:"path"`
	Data   string        `json:"data"`
	Target domain.NodeID `json:"target,omitempty"`
}

// AssetResponse describes a stored asset
type AssetResponse struct {
	Handle string `json:"handle"`
	Size   int    `json:"size"`
}

// Health reports liveness and the number of connected peers
func (h *RelayHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"status": "ok",
		"peers":  len(h.broker.ConnectedPeers()),
	}, http.StatusOK)
}

// GetCapabilities returns the capability snapshot. ?filter=all includes
// peers that are not reachable.
func (h *RelayHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	filter := domain.ParseNodeFilter(r.URL.Query().Get("filter"))
	h.writeJSON(w, h.broker.Snapshot(filter), http.StatusOK)
}

// ListPeers returns connected peers followed by static peers that are not
// connected
func (h *RelayHandler) ListPeers(w http.ResponseWriter, r *http.Request) {
	seen := make(map[domain.NodeID]bool)
	views := []PeerView{}
	for _, p := range h.broker.ConnectedPeers() {
		seen[p.ID] = true
		views = append(views, peerView(p, true))
	}
	for _, p := range h.broker.StaticPeers() {
		if !seen[p.ID] {
			views = append(views, peerView(p, false))
		}
	}
	h.writeJSON(w, views, http.StatusOK)
}

func peerView(p repository.Peer, connected bool) PeerView {
	caps := p.Capabilities
	if caps == nil {
		caps = []domain.CapabilityName{}
	}
	return PeerView{
		ID:           p.ID,
		DisplayName:  p.DisplayName,
		Address:      p.Address,
		Static:       p.Static,
		Connected:    connected,
		Capabilities: caps,
	}
}

// ListRecords returns every record. ?format=yaml exports YAML instead of JSON.
func (h *RelayHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	c, ok := codec.ForFormat(format)
	if !ok {
		h.writeError(w, "Unsupported format", format, http.StatusBadRequest)
		return
	}

	records, err := h.broker.Records(r.Context())
	if err != nil {
		h.logger.Error("failed to list records", "error", err)
		h.writeError(w, "Failed to list records", err.Error(), http.StatusInternalServerError)
		return
	}

	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/x-yaml")
	}
	if err := c.Export(records, w); err != nil {
		h.logger.Error("failed to export records", "format", format, "error", err)
	}
}

// GetRecord returns the record stored at the wildcard path
func (h *RelayHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	path := recordPath(r)
	records, err := h.broker.Records(r.Context())
	if err != nil {
		h.logger.Error("failed to list records", "error", err)
		h.writeError(w, "Failed to get record", err.Error(), http.StatusInternalServerError)
		return
	}
	for _, rec := range records {
		if rec.Path == path {
			h.writeJSON(w, rec, http.StatusOK)
			return
		}
	}
	h.writeError(w, "Not found", string(path), http.StatusNotFound)
}

// PutRecord stores the JSON object body as the payload of the wildcard path
func (h *RelayHandler) PutRecord(w http.ResponseWriter, r *http.Request) {
	path := recordPath(r)
	payload, err := codec.NewJSONCodec().ParsePayload(r.Body)
	if err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.broker.PutRecord(r.Context(), origin(r), domain.Record{Path: path, Payload: payload})
	if err != nil {
		h.writeBrokerError(w, "Failed to put record", err)
		return
	}
	h.writeJSON(w, rec, http.StatusOK)
}

// DeleteRecord removes the record at the wildcard path
func (h *RelayHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.broker.DeleteRecord(r.Context(), origin(r), recordPath(r)); err != nil {
		h.writeBrokerError(w, "Failed to delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportRecords stores every record of a JSON or YAML batch
func (h *RelayHandler) ImportRecords(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "yaml"
	}
	c, ok := codec.ForFormat(format)
	if !ok {
		h.writeError(w, "Unsupported format", format, http.StatusBadRequest)
		return
	}

	records, err := c.Parse(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		h.writeError(w, "Failed to parse records", err.Error(), http.StatusBadRequest)
		return
	}

	src := origin(r)
	for _, rec := range records {
		if _, err := h.broker.PutRecord(r.Context(), src, rec); err != nil {
			h.writeBrokerError(w, fmt.Sprintf("Failed to import %s", rec.Path), err)
			return
		}
	}
	h.logger.Info("imported records", "count", len(records), "format", format)
	h.writeJSON(w, map[string]int{"imported": len(records)}, http.StatusOK)
}

// SendMessage relays a message to one peer or to every message subscriber
func (h *RelayHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.broker.SendMessage(r.Context(), origin(r), domain.Message{Path: req.Path, Data: []byte(req.Data)}, req.Target)
	if err != nil {
		h.writeBrokerError(w, "Failed to send message", err)
		return
	}
	h.writeJSON(w, msg, http.StatusAccepted)
}

// PutAsset stores the raw request body as an asset
func (h *RelayHandler) PutAsset(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	handle, err := h.broker.PutAsset(r.Context(), data)
	if err != nil {
		h.logger.Error("failed to store asset", "error", err)
		h.writeError(w, "Failed to store asset", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, AssetResponse{Handle: handle.Digest, Size: len(data)}, http.StatusCreated)
}

// GetAsset returns the raw bytes of an asset
func (h *RelayHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	handle, err := domain.ParseAssetHandle(r.PathValue("digest"))
	if err != nil {
		h.writeError(w, "Invalid asset handle", err.Error(), http.StatusBadRequest)
		return
	}

	data, err := h.broker.Asset(r.Context(), handle)
	if errors.Is(err, repository.ErrNotFound) {
		h.writeError(w, "Not found", handle.Short(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to read asset", "asset", handle.Short(), "error", err)
		h.writeError(w, "Failed to read asset", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

// PostImage stores an image and announces it on the image path, the same
// way a phone shares a photo
func (h *RelayHandler) PostImage(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		h.writeError(w, "Not an image", ct, http.StatusUnsupportedMediaType)
		return
	}

	handle, err := h.broker.PutAsset(r.Context(), data)
	if err != nil {
		h.logger.Error("failed to store image", "error", err)
		h.writeError(w, "Failed to store image", err.Error(), http.StatusInternalServerError)
		return
	}
	rec, err := h.broker.PutRecord(r.Context(), origin(r), domain.Record{
		Path:    h.paths.Image,
		Payload: domain.DataMap{h.paths.ImageKey: handle},
	})
	if err != nil {
		h.writeBrokerError(w, "Failed to announce image", err)
		return
	}
	h.writeJSON(w, rec, http.StatusCreated)
}

// GetReachability returns the results of the last probe
func (h *RelayHandler) GetReachability(w http.ResponseWriter, r *http.Request) {
	if h.probes == nil {
		h.writeError(w, "Reachability not configured", "No prober is running", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, h.probes.LastResults(), http.StatusOK)
}

// TriggerProbe probes every paired peer now and returns the results
func (h *RelayHandler) TriggerProbe(w http.ResponseWriter, r *http.Request) {
	if h.probes == nil {
		h.writeError(w, "Reachability not configured", "No prober is running", http.StatusServiceUnavailable)
		return
	}
	results, err := h.probes.TriggerProbe(r.Context())
	if err != nil {
		h.logger.Warn("probe failed", "error", err)
		h.writeError(w, "Probe failed", err.Error(), http.StatusBadGateway)
		return
	}
	if results == nil {
		results = []reachability.Result{}
	}
	h.writeJSON(w, results, http.StatusOK)
}

func (h *RelayHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		h.writeError(w, "Failed to read request body", err.Error(), http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if len(data) == 0 {
		h.writeError(w, "Empty body", "", http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

// Helper methods

// recordPath maps /api/records/{path...} to the record path it names
func recordPath(r *http.Request) domain.Path {
	return domain.Path("/" + strings.TrimPrefix(r.PathValue("path"), "/"))
}

// origin names the writer: ?source= when given, OriginHTTP otherwise
func origin(r *http.Request) domain.NodeID {
	if s := strings.TrimSpace(r.URL.Query().Get("source")); s != "" {
		return domain.NodeID(s)
	}
	return OriginHTTP
}

func (h *RelayHandler) writeBrokerError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, relay.ErrEmptyPath):
		h.writeError(w, msg, err.Error(), http.StatusBadRequest)
	case errors.Is(err, relay.ErrPeerNotConnected):
		h.writeError(w, msg, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error(strings.ToLower(msg), "error", err)
		h.writeError(w, msg, err.Error(), http.StatusInternalServerError)
	}
}

func (h *RelayHandler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *RelayHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

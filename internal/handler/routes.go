package handler

import (
	"log/slog"
	"net/http"
)

// Routes builds the relay HTTP surface. peers serves the websocket endpoint
// and events the activity stream; either may be nil.
func Routes(api *RelayHandler, peers, events http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", api.Health)

	// Capabilities and peers
	mux.HandleFunc("GET /api/capabilities", api.GetCapabilities)
	mux.HandleFunc("GET /api/peers", api.ListPeers)
	mux.HandleFunc("GET /api/reachability", api.GetReachability)
	mux.HandleFunc("POST /api/reachability/probe", api.TriggerProbe)

	// Record endpoints
	mux.HandleFunc("GET /api/records", api.ListRecords)
	mux.HandleFunc("POST /api/records/import", api.ImportRecords)
	mux.HandleFunc("GET /api/records/{path...}", api.GetRecord)
	mux.HandleFunc("PUT /api/records/{path...}", api.PutRecord)
	mux.HandleFunc("DELETE /api/records/{path...}", api.DeleteRecord)

	// Messages and assets
	mux.HandleFunc("POST /api/messages", api.SendMessage)
	mux.HandleFunc("POST /api/assets", api.PutAsset)
	mux.HandleFunc("GET /api/assets/{digest}", api.GetAsset)
	mux.HandleFunc("POST /api/images", api.PostImage)

	if peers != nil {
		mux.Handle("GET /ws", peers)
	}
	if events != nil {
		mux.Handle("GET /api/events", events)
	}

	return Chain(mux,
		Recover(logger),
		CORS,
		Logger(logger),
	)
}

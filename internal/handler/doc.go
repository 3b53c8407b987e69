// Package handler implements the HTTP surface of the relay.
//
// RelayHandler exposes the broker to tools and dashboards that do not speak
// the websocket frame protocol: records can be listed, exported as JSON or
// YAML, written and deleted; messages can be sent; assets and images can be
// uploaded and fetched by digest.
//
// # Routes
//
//	GET    /healthz
//	GET    /api/capabilities?filter=all|reachable
//	GET    /api/peers
//	GET    /api/reachability
//	POST   /api/reachability/probe
//	GET    /api/records?format=json|yaml
//	POST   /api/records/import?format=json|yaml
//	GET    /api/records/{path...}
//	PUT    /api/records/{path...}
//	DELETE /api/records/{path...}
//	POST   /api/messages
//	POST   /api/assets
//	GET    /api/assets/{digest}
//	POST   /api/images
//	GET    /ws          websocket peers (hub.PeerServer)
//	GET    /api/events  relay activity as server-sent events (hub.Hub)
//
// Writes are attributed to ?source=<node> when given and to "http" otherwise.
//
// # Response Format
//
// Success responses return JSON with an appropriate status code. Error
// responses return JSON with an {error, details} structure.
package handler

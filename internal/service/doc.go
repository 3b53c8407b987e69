// Package service implements the coordinator for the paired-device client.
//
// The coordinator reacts to inbound events from the peer-sync transport and
// drives a presentation collaborator. It is split into four parts that share
// only the Transport and Presenter interfaces.
//
// # Services
//
// Router classifies each inbound event into exactly one action: a data log
// entry or an asynchronous asset resolution. Classify is pure and is the
// place to look when a path or event kind is added.
//
// AssetResolver fetches a blob by handle and decodes it into an image off the
// delivery goroutine, then hands it to the presenter and shows the asset page.
//
// CapabilityDirectory answers which reachable peers advertise one or more
// capabilities, and reports the outcome as a toast.
//
// Session owns the three inbound subscriptions and binds them to the client's
// active state.
//
// # Event System
//
// Components publish lifecycle events on an EventBus so the owner (the CLI,
// the TUI) can observe activation, transport failures, resolutions and
// discovery results without polling.
//
// # Design Principles
//
// - Delivery goroutines are never blocked by I/O
// - Transport failures are surfaced, not retried
// - No cross-event state: every event is handled on its own
package service

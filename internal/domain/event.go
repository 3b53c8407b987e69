package domain

import "fmt"

// EventKind names the variant of an inbound event
type EventKind string

const (
	EventRecordChanged     EventKind = "record_changed"
	EventRecordDeleted     EventKind = "record_deleted"
	EventMessageReceived   EventKind = "message_received"
	EventCapabilityChanged EventKind = "capability_changed"
)

// InboundEvent is pushed by the transport and consumed exactly once by the
// router. The known variants are RecordChanged, RecordDeleted,
// MessageReceived and CapabilityChanged; any other implementation is an
// event kind the router does not recognize.
type InboundEvent interface {
	Kind() EventKind
	// Describe returns a human-readable description for the data log
	Describe() string
}

// RecordChanged reports a new or updated record
type RecordChanged struct {
	Record Record
}

func (RecordChanged) Kind() EventKind { return EventRecordChanged }
func (e RecordChanged) Describe() string { return e.Record.Describe() }

// RecordDeleted reports a removed record
type RecordDeleted struct {
	Record Record
}

func (RecordDeleted) Kind() EventKind { return EventRecordDeleted }
func (e RecordDeleted) Describe() string { return e.Record.Describe() }

// MessageReceived reports a point-to-point message
type MessageReceived struct {
	Message Message
}

func (MessageReceived) Kind() EventKind { return EventMessageReceived }
func (e MessageReceived) Describe() string { return e.Message.Describe() }

// CapabilityChanged carries a complete replacement snapshot
type CapabilityChanged struct {
	Snapshot CapabilitySnapshot
}

func (CapabilityChanged) Kind() EventKind { return EventCapabilityChanged }
func (e CapabilityChanged) Describe() string {
	return fmt.Sprintf("CapabilitySnapshot%s", e.Snapshot)
}

// Stream identifies one of the three independent inbound streams
type Stream string

const (
	StreamRecords      Stream = "records"
	StreamMessages     Stream = "messages"
	StreamCapabilities Stream = "capabilities"
)

// Streams lists every stream in subscription order
var Streams = []Stream{StreamRecords, StreamMessages, StreamCapabilities}

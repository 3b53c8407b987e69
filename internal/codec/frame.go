package codec

import (
	"errors"
	"fmt"

	"datalayer/internal/domain"
)

// FrameType identifies a relay wire frame
type FrameType string

// Client requests
const (
	FrameSubscribe       FrameType = "subscribe"
	FrameUnsubscribe     FrameType = "unsubscribe"
	FramePutRecord       FrameType = "put_record"
	FrameDeleteRecord    FrameType = "delete_record"
	FrameSendMessage     FrameType = "send_message"
	FramePutAsset        FrameType = "put_asset"
	FrameGetAsset        FrameType = "get_asset"
	FrameGetCapabilities FrameType = "get_capabilities"
)

// Server replies and pushes
const (
	FrameAck               FrameType = "ack"
	FrameAssetStored       FrameType = "asset_stored"
	FrameAsset             FrameType = "asset"
	FrameCapabilities      FrameType = "capabilities"
	FrameRecordChanged     FrameType = "record_changed"
	FrameRecordDeleted     FrameType = "record_deleted"
	FrameMessage           FrameType = "message"
	FrameCapabilityChanged FrameType = "capability_changed"
	FrameError             FrameType = "error"
)

// ErrMalformedFrame is returned for frames that fail validation
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one binary websocket message between a peer and the relay. Only
// the fields relevant to Type are set. Requests carry an ID which the reply
// echoes; pushes have no ID.
type Frame struct {
	Type     FrameType                 `cbor:"type"`
	ID       string                    `cbor:"id,omitempty"`
	Stream   domain.Stream             `cbor:"stream,omitempty"`
	Record   *domain.Record            `cbor:"record,omitempty"`
	Message  *domain.Message           `cbor:"message,omitempty"`
	Target   domain.NodeID             `cbor:"target,omitempty"`
	Handle   string                    `cbor:"handle,omitempty"`
	Data     []byte                    `cbor:"data,omitempty"`
	Found    bool                      `cbor:"found,omitempty"`
	Filter   domain.NodeFilter         `cbor:"filter,omitempty"`
	Scope    string                    `cbor:"scope,omitempty"`
	Snapshot domain.CapabilitySnapshot `cbor:"snapshot,omitempty"`
	Error    string                    `cbor:"error,omitempty"`
}

// IsReply reports whether the frame answers a request
func (f *Frame) IsReply() bool {
	switch f.Type {
	case FrameAck, FrameAssetStored, FrameAsset, FrameCapabilities:
		return true
	case FrameError:
		return f.ID != ""
	}
	return false
}

// Validate checks the fields required by the frame type
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameSubscribe, FrameUnsubscribe:
		switch f.Stream {
		case domain.StreamRecords, domain.StreamMessages, domain.StreamCapabilities:
		default:
			return fmt.Errorf("%w: %s: unknown stream %q", ErrMalformedFrame, f.Type, f.Stream)
		}
	case FramePutRecord, FrameDeleteRecord, FrameRecordChanged, FrameRecordDeleted:
		if f.Record == nil || f.Record.Path == "" {
			return fmt.Errorf("%w: %s: record path is required", ErrMalformedFrame, f.Type)
		}
	case FrameSendMessage, FrameMessage:
		if f.Message == nil || f.Message.Path == "" {
			return fmt.Errorf("%w: %s: message path is required", ErrMalformedFrame, f.Type)
		}
	case FrameGetAsset:
		if _, err := domain.ParseAssetHandle(f.Handle); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Type, err)
		}
	case FramePutAsset, FrameGetCapabilities, FrameAck, FrameAssetStored, FrameAsset,
		FrameCapabilities, FrameCapabilityChanged, FrameError:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return nil
}

// EncodeFrame serializes a frame for a binary websocket message
func EncodeFrame(f *Frame) ([]byte, error) {
	data, err := Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// DecodeFrame parses and validates a binary websocket message
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ErrorFrame builds an error reply for request id
func ErrorFrame(id string, err error) *Frame {
	return &Frame{Type: FrameError, ID: id, Error: err.Error()}
}

// EventFrame converts a pushed event to its wire frame
func EventFrame(event domain.InboundEvent) (*Frame, error) {
	switch e := event.(type) {
	case domain.RecordChanged:
		rec := e.Record
		return &Frame{Type: FrameRecordChanged, Record: &rec}, nil
	case domain.RecordDeleted:
		rec := e.Record
		return &Frame{Type: FrameRecordDeleted, Record: &rec}, nil
	case domain.MessageReceived:
		msg := e.Message
		return &Frame{Type: FrameMessage, Message: &msg}, nil
	case domain.CapabilityChanged:
		return &Frame{Type: FrameCapabilityChanged, Snapshot: e.Snapshot}, nil
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrMalformedFrame)
	}
	return nil, fmt.Errorf("%w: no frame for event kind %q", ErrMalformedFrame, event.Kind())
}

// FrameEvent converts a pushed frame back into the stream and event it carries
func FrameEvent(f *Frame) (domain.Stream, domain.InboundEvent, error) {
	switch f.Type {
	case FrameRecordChanged:
		return domain.StreamRecords, domain.RecordChanged{Record: *f.Record}, nil
	case FrameRecordDeleted:
		return domain.StreamRecords, domain.RecordDeleted{Record: *f.Record}, nil
	case FrameMessage:
		return domain.StreamMessages, domain.MessageReceived{Message: *f.Message}, nil
	case FrameCapabilityChanged:
		snapshot := f.Snapshot
		if snapshot == nil {
			snapshot = domain.NewCapabilitySnapshot()
		}
		return domain.StreamCapabilities, domain.CapabilityChanged{Snapshot: snapshot}, nil
	}
	return "", nil, fmt.Errorf("%w: %s is not a push", ErrMalformedFrame, f.Type)
}

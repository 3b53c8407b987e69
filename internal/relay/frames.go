package relay

import (
	"context"
	"errors"
	"fmt"

	"datalayer/internal/codec"
	"datalayer/internal/domain"
	"datalayer/internal/repository"
)

// HandleFrame executes one request frame from a connected peer and returns
// the reply to send back. Every request gets exactly one reply.
func (b *Broker) HandleFrame(ctx context.Context, peer domain.NodeID, f *codec.Frame) *codec.Frame {
	reply, err := b.handleFrame(ctx, peer, f)
	if err != nil {
		b.logger.Warn("request failed", "peer", peer, "type", f.Type, "id", f.ID, "error", err)
		return codec.ErrorFrame(f.ID, err)
	}
	reply.ID = f.ID
	return reply
}

func (b *Broker) handleFrame(ctx context.Context, peer domain.NodeID, f *codec.Frame) (*codec.Frame, error) {
	switch f.Type {
	case codec.FrameSubscribe:
		scope := domain.CapabilityScope{URI: f.Scope, Filter: f.Filter}
		if err := b.Subscribe(peer, f.Stream, scope); err != nil {
			return nil, err
		}
		return &codec.Frame{Type: codec.FrameAck}, nil

	case codec.FrameUnsubscribe:
		if err := b.Unsubscribe(peer, f.Stream); err != nil {
			return nil, err
		}
		return &codec.Frame{Type: codec.FrameAck}, nil

	case codec.FramePutRecord:
		rec, err := b.PutRecord(ctx, peer, *f.Record)
		if err != nil {
			return nil, err
		}
		return &codec.Frame{Type: codec.FrameAck, Record: &rec}, nil

	case codec.FrameDeleteRecord:
		if err := b.DeleteRecord(ctx, peer, f.Record.Path); err != nil {
			return nil, err
		}
		return &codec.Frame{Type: codec.FrameAck}, nil

	case codec.FrameSendMessage:
		msg, err := b.SendMessage(ctx, peer, *f.Message, f.Target)
		if err != nil {
			return nil, err
		}
		return &codec.Frame{Type: codec.FrameAck, Message: &msg}, nil

	case codec.FramePutAsset:
		handle, err := b.PutAsset(ctx, f.Data)
		if err != nil {
			return nil, err
		}
		return &codec.Frame{Type: codec.FrameAssetStored, Handle: handle.Digest}, nil

	case codec.FrameGetAsset:
		handle, err := domain.ParseAssetHandle(f.Handle)
		if err != nil {
			return nil, err
		}
		data, err := b.Asset(ctx, handle)
		if errors.Is(err, repository.ErrNotFound) {
			return &codec.Frame{Type: codec.FrameAsset, Handle: handle.Digest, Found: false}, nil
		}
		if err != nil {
			return nil, err
		}
		return &codec.Frame{Type: codec.FrameAsset, Handle: handle.Digest, Data: data, Found: true}, nil

	case codec.FrameGetCapabilities:
		filter := f.Filter
		if filter == "" {
			filter = domain.FilterReachable
		}
		return &codec.Frame{Type: codec.FrameCapabilities, Snapshot: b.Snapshot(filter)}, nil
	}

	return nil, fmt.Errorf("%w: %s is not a request", codec.ErrMalformedFrame, f.Type)
}

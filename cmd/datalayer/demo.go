package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"datalayer/internal/config"
	"datalayer/internal/domain"
	"datalayer/internal/relay"
	"datalayer/internal/repository"
	"datalayer/internal/repository/sqlite"
	"datalayer/internal/transport/memory"
)

const demoTick = 2 * time.Second

// demoPhone is the simulated handheld peer of the in-process relay
var demoPhone = repository.Peer{
	ID:           "demo-phone",
	DisplayName:  "Demo phone",
	Capabilities: []domain.CapabilityName{"capability_1", "capability_2"},
}

// demoWorld is an in-process relay with a simulated phone publishing into it
type demoWorld struct {
	broker *relay.Broker
}

func runDemo(ctx context.Context, e *env, args []string) error {
	e.cfg.Transport.Kind = config.TransportMemory
	return runWatch(ctx, e, args)
}

// startDemoWorld brings up the relay and the phone. Both stop with ctx.
func startDemoWorld(ctx context.Context, e *env) (*demoWorld, error) {
	repo, err := sqlite.New(":memory:")
	if err != nil {
		return nil, fmt.Errorf("demo store: %w", err)
	}
	broker := relay.NewBroker(repo, e.logger)

	phone, err := memory.Connect(ctx, broker, demoPhone)
	if err != nil {
		repo.Close()
		return nil, err
	}

	go func() {
		defer repo.Close()
		defer phone.Close()
		runPhone(ctx, e, phone)
	}()
	return &demoWorld{broker: broker}, nil
}

// connector attaches this node to the in-process relay
func (w *demoWorld) connector(e *env) connector {
	self := repository.Peer{
		ID:           domain.NodeID(e.cfg.Node.ID),
		DisplayName:  e.cfg.Node.DisplayName,
		Capabilities: e.cfg.Capabilities(),
	}
	return func(ctx context.Context) (peerTransport, <-chan struct{}, error) {
		t, err := memory.Connect(ctx, w.broker, self)
		if err != nil {
			return nil, nil, err
		}
		return t, nil, nil
	}
}

// runPhone publishes a counter every tick, a fresh image every fifth tick
// and a message every seventh
func runPhone(ctx context.Context, e *env, phone *memory.Transport) {
	logger := e.logger.With("component", "demo-phone")
	ticker := time.NewTicker(demoTick)
	defer ticker.Stop()

	for n := int64(1); ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		path := domain.Path(e.cfg.Paths.Data[0])
		if err := phone.PutRecord(ctx, path, domain.DataMap{"count": n}); err != nil {
			logger.Warn("publish count", "error", err)
		}

		if n%5 == 1 {
			if err := publishImage(ctx, e, phone, int(n)); err != nil {
				logger.Warn("publish image", "error", err)
			}
		}

		if n%7 == 0 {
			text := fmt.Sprintf("hello #%d from %s", n/7, demoPhone.DisplayName)
			if err := phone.SendMessage(ctx, domain.Path(e.cfg.Paths.Message), []byte(text), ""); err != nil {
				logger.Warn("send message", "error", err)
			}
		}
	}
}

func publishImage(ctx context.Context, e *env, phone *memory.Transport, seed int) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(64, 48, seed)); err != nil {
		return err
	}
	handle, err := phone.PutAsset(ctx, buf.Bytes())
	if err != nil {
		return err
	}
	return phone.PutRecord(ctx, domain.Path(e.cfg.Paths.Image), domain.DataMap{e.cfg.Paths.ImageKey: handle})
}

// gradient draws a diagonal gradient whose hue shifts with seed
func gradient(w, h, seed int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := uint8(seed * 37)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*255/w) + shift,
				G: uint8(y*255/h) + shift/2,
				B: uint8((x+y)*255/(w+h)) - shift,
				A: 255,
			})
		}
	}
	return img
}

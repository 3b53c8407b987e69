package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	// Registered image decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"datalayer/internal/domain"
)

const (
	defaultResolveTimeout = 30 * time.Second
	defaultMaxAssetBytes  = 32 << 20
	defaultMaxAssetPixels = 40_000_000
)

// ResolveResult is the outcome of one resolution attempt. Exactly one of
// Image and Err is set.
type ResolveResult struct {
	Handle domain.AssetHandle
	Image  image.Image
	Format string
	Err    error
}

// AssetResolver turns asset handles into decoded images
type AssetResolver struct {
	opener    AssetOpener
	presenter Presenter
	eventBus  *EventBus
	timeout   time.Duration
	maxBytes  int64
	maxPixels int64
	logger    *slog.Logger
}

// ResolverOption configures an AssetResolver
type ResolverOption func(*AssetResolver)

// WithResolveTimeout bounds each attempt, including the stream fetch
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(r *AssetResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxAssetBytes caps how much of a stream is read before decoding fails
func WithMaxAssetBytes(n int64) ResolverOption {
	return func(r *AssetResolver) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithMaxAssetPixels caps the width times height an asset may declare. Larger
// images are rejected before any pixel buffer is allocated.
func WithMaxAssetPixels(n int64) ResolverOption {
	return func(r *AssetResolver) {
		if n > 0 {
			r.maxPixels = n
		}
	}
}

// WithResolverEvents publishes resolution outcomes on bus
func WithResolverEvents(bus *EventBus) ResolverOption {
	return func(r *AssetResolver) {
		r.eventBus = bus
	}
}

// NewAssetResolver creates a resolver reading from opener and delivering
// decoded images to presenter
func NewAssetResolver(opener AssetOpener, presenter Presenter, logger *slog.Logger, opts ...ResolverOption) *AssetResolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &AssetResolver{
		opener:    opener,
		presenter: presenter,
		timeout:   defaultResolveTimeout,
		maxBytes:  defaultMaxAssetBytes,
		maxPixels: defaultMaxAssetPixels,
		logger:    logger.With("component", "resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches and decodes the asset. It blocks on the transport and must
// not be called from a goroutine that has to stay responsive; use
// ResolveAsync there.
func (r *AssetResolver) Resolve(ctx context.Context, handle domain.AssetHandle) (image.Image, string, error) {
	if !handle.Valid() {
		return nil, "", &ResolveError{Handle: handle, Err: fmt.Errorf("%w: %w", ErrAssetNotFound, domain.ErrInvalidAssetHandle)}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stream, err := r.opener.OpenAsset(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil, "", &ResolveError{Handle: handle, Err: err}
		}
		return nil, "", &ResolveError{Handle: handle, Err: fmt.Errorf("open asset stream: %w", err)}
	}
	if stream == nil {
		return nil, "", &ResolveError{Handle: handle, Err: ErrAssetNotFound}
	}
	defer stream.Close()

	img, format, err := r.decode(stream)
	if err != nil {
		return nil, "", &ResolveError{Handle: handle, Err: err}
	}
	return img, format, nil
}

// decode reads at most maxBytes and checks the declared dimensions before
// the full decode allocates pixels
func (r *AssetResolver) decode(stream io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(io.LimitReader(stream, r.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read asset stream: %w", ErrAssetDecode, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("%w: asset exceeds %d bytes", ErrAssetDecode, r.maxBytes)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrAssetDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > r.maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrAssetDecode, cfg.Width, cfg.Height, r.maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrAssetDecode, err)
	}
	return img, format, nil
}

// ResolveAsync runs Resolve on its own goroutine. On success the image is
// handed to the presenter and the asset page is shown; on failure the error is
// logged and nothing is displayed. The returned channel receives exactly one
// result and may be ignored.
func (r *AssetResolver) ResolveAsync(ctx context.Context, handle domain.AssetHandle) <-chan ResolveResult {
	done := make(chan ResolveResult, 1)
	go func() {
		defer close(done)
		done <- r.resolveAndDeliver(ctx, handle)
	}()
	return done
}

func (r *AssetResolver) resolveAndDeliver(ctx context.Context, handle domain.AssetHandle) ResolveResult {
	start := time.Now()
	img, format, err := r.Resolve(ctx, handle)
	if err != nil {
		r.logger.Warn("asset resolution failed", "handle", handle.Short(), "error", err)
		r.eventBus.Publish(Event{
			Type:    EventAssetFailed,
			Payload: map[string]string{"handle": handle.Digest, "error": err.Error()},
		})
		return ResolveResult{Handle: handle, Err: err}
	}

	bounds := img.Bounds()
	r.logger.Debug("setting image on asset page",
		"handle", handle.Short(),
		"format", format,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
		"elapsed", time.Since(start),
	)
	r.presenter.SetDisplayedImage(img)
	r.presenter.SwitchToPage(domain.PageAsset)
	r.eventBus.Publish(Event{
		Type:    EventAssetResolved,
		Payload: map[string]any{"handle": handle.Digest, "format": format, "width": bounds.Dx(), "height": bounds.Dy()},
	})
	return ResolveResult{Handle: handle, Image: img, Format: format}
}

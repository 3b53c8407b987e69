package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"datalayer/internal/codec"
	"datalayer/internal/domain"
	"datalayer/internal/service"
)

// SpoolOrigin is the source recorded on everything the spool publishes
const SpoolOrigin domain.NodeID = "spool"

// DefaultMessagePath is where dropped text files are sent
const DefaultMessagePath domain.Path = "/message"

// Publisher accepts what the spool imports. The relay broker satisfies it.
type Publisher interface {
	PutRecord(ctx context.Context, origin domain.NodeID, rec domain.Record) (domain.Record, error)
	SendMessage(ctx context.Context, origin domain.NodeID, msg domain.Message, target domain.NodeID) (domain.Message, error)
	PutAsset(ctx context.Context, data []byte) (domain.AssetHandle, error)
}

type fileKind int

const (
	kindIgnored fileKind = iota
	kindImage
	kindRecords
	kindMessage
)

func classify(name string) fileKind {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return kindIgnored
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp":
		return kindImage
	case ".yaml", ".yml":
		return kindRecords
	case ".msg", ".txt":
		return kindMessage
	}
	return kindIgnored
}

// Spool publishes files created in a directory and removes them once
// published. Files that fail stay in place until they are rewritten.
type Spool struct {
	dir         string
	publisher   Publisher
	paths       service.RecordPaths
	messagePath domain.Path
	debounce    time.Duration
	yaml        *codec.YAMLCodec
	logger      *slog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inflight map[string]bool
}

// NewSpool creates a spool importer for dir
func NewSpool(dir string, publisher Publisher, paths service.RecordPaths, logger *slog.Logger) *Spool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Spool{
		dir:         dir,
		publisher:   publisher,
		paths:       paths,
		messagePath: DefaultMessagePath,
		debounce:    250 * time.Millisecond,
		yaml:        codec.NewYAMLCodec(),
		logger:      logger.With("component", "spool", "dir", dir),
		timers:      make(map[string]*time.Timer),
		inflight:    make(map[string]bool),
	}
}

// WithDebounce sets how long a file must be quiet before it is imported
func (s *Spool) WithDebounce(d time.Duration) *Spool {
	s.debounce = d
	return s
}

// WithMessagePath sets the path dropped text files are sent on
func (s *Spool) WithMessagePath(p domain.Path) *Spool {
	s.messagePath = p
	return s
}

// Run imports files already in the directory, then watches it until ctx is
// cancelled
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(s.dir); err != nil {
		return err
	}
	defer s.stopTimers()

	s.logger.Info("watching spool")

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list spool dir: %w", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			s.schedule(ctx, filepath.Join(s.dir, e.Name()))
		}
	}

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				s.schedule(ctx, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Spool) schedule(ctx context.Context, path string) {
	if classify(path) == kindIgnored {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[path]; ok {
		t.Stop()
	}
	s.timers[path] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, path)
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err := s.Import(ctx, path); err != nil {
			s.logger.Warn("import failed", "file", filepath.Base(path), "error", err)
		}
	})
}

func (s *Spool) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, t := range s.timers {
		t.Stop()
		delete(s.timers, path)
	}
}

// Import publishes one file and removes it. Missing files and unknown
// extensions are ignored.
func (s *Spool) Import(ctx context.Context, path string) error {
	kind := classify(path)
	if kind == kindIgnored {
		return nil
	}

	s.mu.Lock()
	if s.inflight[path] {
		s.mu.Unlock()
		return nil
	}
	s.inflight[path] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, path)
		s.mu.Unlock()
	}()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	switch kind {
	case kindImage:
		err = s.importImage(ctx, data)
	case kindRecords:
		err = s.importRecords(ctx, data)
	case kindMessage:
		err = s.importMessage(ctx, data)
	}
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove imported file: %w", err)
	}
	s.logger.Info("imported file", "file", filepath.Base(path))
	return nil
}

func (s *Spool) importImage(ctx context.Context, data []byte) error {
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("not an image: %s", ct)
	}
	handle, err := s.publisher.PutAsset(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	_, err = s.publisher.PutRecord(ctx, SpoolOrigin, domain.Record{
		Path:    s.paths.Image,
		Payload: domain.DataMap{s.paths.ImageKey: handle},
	})
	if err != nil {
		return fmt.Errorf("failed to announce image: %w", err)
	}
	return nil
}

func (s *Spool) importRecords(ctx context.Context, data []byte) error {
	records, err := s.yaml.Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := s.publisher.PutRecord(ctx, SpoolOrigin, rec); err != nil {
			return fmt.Errorf("record %s: %w", rec.Path, err)
		}
	}
	return nil
}

func (s *Spool) importMessage(ctx context.Context, data []byte) error {
	_, err := s.publisher.SendMessage(ctx, SpoolOrigin, domain.Message{
		Path: s.messagePath,
		Data: bytes.TrimSpace(data),
	}, "")
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

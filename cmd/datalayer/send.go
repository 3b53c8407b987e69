package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"datalayer/internal/domain"
)

const sendUsage = `usage: datalayer send <kind> [flags] [args]

kinds:
  count [--interval D] [--start N] [--times N]   publish an incrementing counter
  image <file>                                   publish an image record
  message [--path P] [--target NODE] <text>      send a message
  delete <path>                                  delete a record
`

var errSendUsage = errors.New(strings.TrimSpace(sendUsage))

func runSend(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errSendUsage
	}
	kind, args := args[0], args[1:]

	var run func(context.Context, *env, peerTransport, []string) error
	switch kind {
	case "count":
		run = sendCount
	case "image":
		run = sendImage
	case "message":
		run = sendMessage
	case "delete":
		run = sendDelete
	default:
		return errSendUsage
	}

	t, err := connectOnce(ctx, e)
	if err != nil {
		return err
	}
	defer t.Close()
	return run(ctx, e, t, args)
}

// sendCount publishes {count: n} at the first data path, once per interval
func sendCount(ctx context.Context, e *env, t peerTransport, args []string) error {
	flags := pflag.NewFlagSet("send count", pflag.ContinueOnError)
	interval := flags.Duration("interval", time.Second, "time between updates")
	start := flags.Int64("start", 1, "first value")
	times := flags.Int("times", 0, "number of updates, 0 for no limit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if len(e.cfg.Paths.Data) == 0 {
		return errors.New("send count: no data path configured")
	}
	path := domain.Path(e.cfg.Paths.Data[0])

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	n := *start
	for i := 0; *times == 0 || i < *times; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		if err := t.PutRecord(ctx, path, domain.DataMap{"count": n}); err != nil {
			return fmt.Errorf("put %s: %w", path, err)
		}
		e.logger.Info("count published", "path", path, "count", n)
		n++
	}
	return nil
}

// sendImage uploads the file as an asset and points the image record at it
func sendImage(ctx context.Context, e *env, t peerTransport, args []string) error {
	if len(args) != 1 {
		return errors.New("send image: exactly one file is required")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("send image: %s is %s, not an image", args[0], ct)
	}

	handle, err := t.PutAsset(ctx, data)
	if err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	path := domain.Path(e.cfg.Paths.Image)
	if err := t.PutRecord(ctx, path, domain.DataMap{e.cfg.Paths.ImageKey: handle}); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	e.logger.Info("image published", "path", path, "asset", handle.Short(), "bytes", len(data))
	return nil
}

func sendMessage(ctx context.Context, e *env, t peerTransport, args []string) error {
	flags := pflag.NewFlagSet("send message", pflag.ContinueOnError)
	path := flags.String("path", e.cfg.Paths.Message, "message path")
	target := flags.String("target", "", "node id to deliver to, empty for every subscriber")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("send message: text is required")
	}
	text := strings.Join(flags.Args(), " ")

	if err := t.SendMessage(ctx, domain.Path(*path), []byte(text), domain.NodeID(*target)); err != nil {
		return fmt.Errorf("send %s: %w", *path, err)
	}
	e.logger.Info("message sent", "path", *path, "target", *target)
	return nil
}

func sendDelete(ctx context.Context, e *env, t peerTransport, args []string) error {
	if len(args) != 1 {
		return errors.New("send delete: exactly one path is required")
	}
	path := domain.Path(args[0])
	if err := t.DeleteRecord(ctx, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	e.logger.Info("record deleted", "path", path)
	return nil
}

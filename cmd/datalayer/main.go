// datalayer is the wearable-side client of the peer-sync relay. It mirrors
// records, messages and images published by paired peers and can publish
// into the relay itself.
//
// Usage:
//
//	datalayer [global flags] watch [--tui] [--thumb N]
//	datalayer [global flags] discover <preset|capability>...
//	datalayer [global flags] send count|image|message|delete ...
//	datalayer [global flags] demo [--tui]
//	datalayer [global flags] init [--force] [path]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"datalayer/internal/config"
	"datalayer/internal/domain"
	"datalayer/internal/transport/remote"
)

var (
	errNotConnected = errors.New("not connected")
	errUsage        = errors.New("usage")
)

const usageText = `usage: datalayer [flags] <command> [args]

commands:
  watch      mirror the relay's data, images and capabilities
  discover   list the nodes advertising any capability of a preset
  send       publish a counter, an image, a message, or delete a record
  demo       run watch against an in-process relay with a simulated phone
  init       write the effective configuration to a file

flags:
`

// env is what every command receives after global flags are applied
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("datalayer", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", "", "config file (default: $DATALAYER_CONFIG, ./datalayer.yaml, ~/.config/datalayer/config.yaml)")
	url := flags.String("url", "", "relay URL")
	node := flags.String("node", "", "node id of this device")
	name := flags.String("name", "", "display name of this device")
	caps := flags.StringArray("cap", nil, "capability this device advertises (repeatable)")
	kind := flags.String("transport", "", "relay or memory")
	logLevel := flags.String("log-level", "", "debug, info, warn, error")
	logJSON := flags.Bool("log-json", false, "log as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return errUsage
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("url") {
		cfg.Transport.URL = *url
	}
	if flags.Changed("node") {
		cfg.Node.ID = *node
	}
	if flags.Changed("name") {
		cfg.Node.DisplayName = *name
	}
	if flags.Changed("cap") {
		cfg.Node.Capabilities = *caps
	}
	if flags.Changed("transport") {
		cfg.Transport.Kind = *kind
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = *logJSON
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Debug("config loaded", "path", path, "node", cfg.Node.ID, "transport", cfg.Transport.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{cfg: cfg, logger: logger}
	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "watch":
		return runWatch(ctx, e, cmdArgs)
	case "discover":
		return runDiscover(ctx, e, cmdArgs)
	case "send":
		return runSend(ctx, e, cmdArgs)
	case "demo":
		return runDemo(ctx, e, cmdArgs)
	case "init":
		return runInit(ctx, e, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flags.Usage()
		return errUsage
	}
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// remoteOptions describes this node to the relay
func (e *env) remoteOptions() remote.Options {
	return remote.Options{
		URL:            e.cfg.Transport.URL,
		Node:           domain.NodeID(e.cfg.Node.ID),
		Name:           e.cfg.Node.DisplayName,
		Capabilities:   e.cfg.Capabilities(),
		RequestTimeout: e.cfg.Transport.RequestTimeout.Duration(),
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"datalayer/internal/config"
	"datalayer/internal/presenter"
	"datalayer/internal/service"
	"datalayer/internal/transport/remote"
)

var errConnectionLost = errors.New("connection lost")

// connector opens a fresh connection. done is closed when the connection
// drops; a nil done never fires.
type connector func(ctx context.Context) (t peerTransport, done <-chan struct{}, err error)

// relayConnector dials the relay named in the config
func relayConnector(e *env) connector {
	opts := e.remoteOptions()
	timeout := e.cfg.Transport.DialTimeout.Duration()
	return func(ctx context.Context) (peerTransport, <-chan struct{}, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		c, err := remote.Dial(dialCtx, opts, e.logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Done(), nil
	}
}

// connectorFor picks the transport the config asks for. The memory
// transport brings up the in-process demo relay for the lifetime of ctx.
func connectorFor(ctx context.Context, e *env) (connector, error) {
	if e.cfg.Transport.Kind == config.TransportMemory {
		w, err := startDemoWorld(ctx, e)
		if err != nil {
			return nil, err
		}
		return w.connector(e), nil
	}
	return relayConnector(e), nil
}

// supervisor keeps the session attached to a live connection, reconnecting
// after ReconnectDelay whenever the connection drops
type supervisor struct {
	link    *link
	connect connector
	session *service.Session
	delay   time.Duration
	logger  *slog.Logger
	onState func(error)

	current peerTransport
}

// attach connects and activates the session on the new connection
func (s *supervisor) attach(ctx context.Context) (<-chan struct{}, error) {
	t, done, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.link.set(t)
	if err := s.session.Activate(); err != nil {
		s.link.set(nil)
		t.Close()
		return nil, err
	}
	s.current = t
	return done, nil
}

// detach deactivates the session and drops the connection
func (s *supervisor) detach() {
	if err := s.session.Deactivate(); err != nil {
		s.logger.Warn("deactivate", "error", err)
	}
	s.link.set(nil)
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}

func (s *supervisor) report(err error) {
	if err != nil {
		s.logger.Warn("not connected", "error", err, "retry_in", s.delay)
	}
	if s.onState != nil {
		s.onState(err)
	}
}

// run waits on the connection attach returned and reconnects until ctx is
// done. The session is deactivated on return.
func (s *supervisor) run(ctx context.Context, done <-chan struct{}, attached bool) {
	defer s.detach()
	for {
		if attached {
			select {
			case <-done:
				s.detach()
				s.report(errConnectionLost)
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}

		var err error
		done, err = s.attach(ctx)
		attached = err == nil
		s.report(err)
	}
}

// client is the assembled session graph over a link
type client struct {
	link      *link
	bus       *service.EventBus
	router    *service.Router
	resolver  *service.AssetResolver
	directory *service.CapabilityDirectory
	session   *service.Session
}

func newClient(ctx context.Context, e *env, p service.Presenter) *client {
	l := &link{}
	bus := service.NewEventBus()
	resolver := service.NewAssetResolver(l, p, e.logger,
		service.WithResolveTimeout(e.cfg.Resolver.Timeout.Duration()),
		service.WithMaxAssetBytes(e.cfg.Resolver.MaxBytes),
		service.WithMaxAssetPixels(e.cfg.Resolver.MaxPixels),
		service.WithResolverEvents(bus),
	)
	router := service.NewRouter(ctx, e.cfg.RecordPaths(), p, resolver, e.logger)
	return &client{
		link:      l,
		bus:       bus,
		router:    router,
		resolver:  resolver,
		directory: service.NewCapabilityDirectory(l, p, bus, e.logger),
		session:   service.NewSession(l, router, bus, e.logger),
	}
}

// logEvents mirrors the service event bus into the debug log
func (c *client) logEvents(ctx context.Context, logger *slog.Logger) {
	ch := make(chan service.Event, 32)
	c.bus.Subscribe(ch)
	go func() {
		defer c.bus.Unsubscribe(ch)
		for {
			select {
			case ev := <-ch:
				logger.Debug("event", "type", ev.Type, "payload", ev.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *client) supervisor(e *env, connect connector, onState func(error)) *supervisor {
	return &supervisor{
		link:    c.link,
		connect: connect,
		session: c.session,
		delay:   e.cfg.Transport.ReconnectDelay.Duration(),
		logger:  e.logger,
		onState: onState,
	}
}

func runWatch(ctx context.Context, e *env, args []string) error {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	useTUI := flags.Bool("tui", false, "full-screen pager instead of line output")
	thumb := flags.Int("thumb", 48, "thumbnail width in columns for line output, 0 to disable")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *useTUI {
		// The pager owns the terminal
		e.logger = slog.New(slog.DiscardHandler)
	}
	connect, err := connectorFor(ctx, e)
	if err != nil {
		return err
	}
	if *useTUI {
		return watchTUI(ctx, e, connect)
	}
	return watchConsole(ctx, e, connect, *thumb)
}

func watchConsole(ctx context.Context, e *env, connect connector, thumbCols int) error {
	console := presenter.NewConsole(os.Stdout, thumbCols)
	c := newClient(ctx, e, console)
	c.logEvents(ctx, e.logger)

	sup := c.supervisor(e, connect, func(err error) {
		if err != nil {
			console.ShowToast("Not connected: " + err.Error())
		}
	})
	done, err := sup.attach(ctx)
	sup.report(err)
	sup.run(ctx, done, err == nil)
	return nil
}

func watchTUI(ctx context.Context, e *env, connect connector) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tui := presenter.NewTUI()
	c := newClient(ctx, e, tui)
	sup := c.supervisor(e, connect, tui.SetConnectionError)

	var presets []presenter.Preset
	for _, name := range e.cfg.PresetNames() {
		presets = append(presets, presenter.Preset{Name: name, Capabilities: e.cfg.Discovery.Presets[name]})
	}

	var (
		mu      sync.Mutex
		stopped bool
		wg      sync.WaitGroup
	)
	model := presenter.NewModel(presenter.ModelOptions{
		Title:   fmt.Sprintf("datalayer · %s", e.cfg.Node.ID),
		Presets: presets,
		Activate: func() error {
			mu.Lock()
			defer mu.Unlock()
			if stopped {
				return nil
			}
			done, err := sup.attach(ctx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				sup.run(ctx, done, err == nil)
			}()
			return err
		},
		Discover: func(preset string) {
			c.directory.Discover(ctx, e.cfg.Preset(preset)...)
		},
	})

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	tui.SetProgram(program)
	_, err := program.Run()
	tui.SetProgram(nil)

	cancel()
	mu.Lock()
	stopped = true
	mu.Unlock()
	wg.Wait()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

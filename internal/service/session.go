package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"datalayer/internal/domain"
)

// Session ties the three inbound subscriptions to the client's active state.
// It owns the active flag and the live subscription handles; nothing else
// mutates them.
type Session struct {
	source   EventSource
	router   *Router
	scope    domain.CapabilityScope
	eventBus *EventBus
	logger   *slog.Logger

	mu     sync.Mutex
	active bool
	subs   []Subscription
}

// NewSession creates an inactive session routing source's streams through router
func NewSession(source EventSource, router *Router, eventBus *EventBus, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		source:   source,
		router:   router,
		scope:    domain.DefaultCapabilityScope(),
		eventBus: eventBus,
		logger:   logger.With("component", "session"),
	}
}

// SetCapabilityScope changes the scope used by the next activation
func (s *Session) SetCapabilityScope(scope domain.CapabilityScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = scope
}

// Active reports whether the subscriptions are live
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activate subscribes the router to the record, message and capability
// streams. It is a no-op when already active. If any subscribe call fails the
// subscriptions made so far are released and an error wrapping
// ErrTransportUnreachable is returned; there is no retry.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}

	subscribe := []struct {
		stream domain.Stream
		fn     func() (Subscription, error)
	}{
		{domain.StreamRecords, func() (Subscription, error) { return s.source.SubscribeRecords(s.router.HandleRecords) }},
		{domain.StreamMessages, func() (Subscription, error) { return s.source.SubscribeMessages(s.router.HandleMessages) }},
		{domain.StreamCapabilities, func() (Subscription, error) {
			return s.source.SubscribeCapabilities(s.router.HandleCapabilities, s.scope)
		}},
	}

	subs := make([]Subscription, 0, len(subscribe))
	for _, step := range subscribe {
		sub, err := step.fn()
		if err != nil {
			if releaseErr := unsubscribeAll(subs); releaseErr != nil {
				s.logger.Warn("releasing partial subscriptions", "error", releaseErr)
			}
			err = Unreachable(fmt.Sprintf("subscribe %s", step.stream), err)
			s.logger.Error("session activation failed", "stream", step.stream, "error", err)
			s.eventBus.Publish(Event{
				Type:    EventTransportUnreachable,
				Payload: map[string]string{"stream": string(step.stream), "error": err.Error()},
			})
			return err
		}
		subs = append(subs, sub)
	}

	s.subs = subs
	s.active = true
	s.logger.Info("session activated", "subscriptions", len(subs))
	s.eventBus.Publish(Event{Type: EventSessionActivated})
	return nil
}

// Deactivate releases all three subscriptions. It is a no-op when inactive.
// In-flight resolutions and queries are not cancelled.
func (s *Session) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}

	err := unsubscribeAll(s.subs)
	s.subs = nil
	s.active = false
	if err != nil {
		s.logger.Warn("unsubscribe errors during deactivation", "error", err)
	}
	s.logger.Info("session deactivated")
	s.eventBus.Publish(Event{Type: EventSessionDeactivated})
	return err
}

func unsubscribeAll(subs []Subscription) error {
	var errs []error
	for i := len(subs) - 1; i >= 0; i-- {
		if err := subs[i].Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

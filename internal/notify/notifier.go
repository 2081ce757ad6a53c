// Package notify fans trading alerts out to the configured operator
// channels. Every alert carries an Event so each channel can render it
// appropriately and operators can filter down to the events they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event classifies an alert.
type Event string

const (
	EventTradeExecuted Event = "trade_executed"
	EventSignalQueued  Event = "signal_queued"
	EventKillSwitch    Event = "kill_switch"
	EventError         Event = "error"
	// EventLifecycle covers startup and shutdown messages, which bypass
	// the event filter.
	EventLifecycle Event = "lifecycle"
)

// Notification is one alert on its way to the operator channels.
type Notification struct {
	Event   Event
	Title   string
	Message string
	At      time.Time
}

// Sender delivers notifications over one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	// Name identifies the channel in logs ("telegram", "discord").
	Name() string
}

// Notifier dispatches alerts to the registered senders, dropping events
// outside the configured allow-list.
type Notifier struct {
	senders []Sender
	allowed map[Event]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. An empty
// events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers an alert to every channel if its event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	note := Notification{
		Event:   Event(event),
		Title:   title,
		Message: message,
		At:      time.Now().UTC(),
	}
	if len(n.allowed) > 0 && !n.allowed[note.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, note)
}

// NotifyAll delivers a lifecycle alert regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, Notification{
		Event:   EventLifecycle,
		Title:   title,
		Message: message,
		At:      time.Now().UTC(),
	})
}

// dispatch sends to every channel. One failing sender does not stop
// delivery to the rest; failures come back as a single combined error.
func (n *Notifier) dispatch(ctx context.Context, note Notification) error {
	if len(n.senders) == 0 {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(note.Event)),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(note.Event)),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

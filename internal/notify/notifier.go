// Package notify fans operator alerts out to chat channels. Events are
// filtered by type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Event types.
const (
	EventStateConflict = "state_conflict"
	EventIngestFailed  = "ingest_failed"
	EventQuotaLow      = "quota_low"
	EventBackfillDone  = "backfill_done"
	EventArbitrage     = "arbitrage"
)

// Event is one alert. Fields are rendered as "key: value" lines in key order.
type Event struct {
	Type   string
	Title  string
	Fields map[string]any
}

// Message renders the body shared by every sender.
func (e Event) Message() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %v", k, e.Fields[k])
	}
	return b.String()
}

// Sender delivers a rendered notification to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event types listed in events are
// forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether events of type t reach any sender.
func (n *Notifier) Enabled(t string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[t]
}

// Notify sends ev to all senders. A nil Notifier drops the event. One
// sender failing does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if !n.Enabled(ev.Type) {
		return nil
	}

	title := ev.Title
	if title == "" {
		title = ev.Type
	}
	msg := ev.Message()

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, msg); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", ev.Type),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", ev.Type),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Package notifier fans out event announcements to chat recipients.
//
// Every (event, recipient) pair is one independent task. Tasks run
// concurrently, a failing task never cancels the others, and the outcome of
// each task is collected into a Report.
package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"ticket_bot/internal/model"
)

// Sender delivers a rendered message to a single recipient.
type Sender interface {
	Send(ctx context.Context, to model.RecipientID, text string) error
}

// TransportError reports that one message could not be delivered.
type TransportError struct {
	EventID   model.EventID
	Recipient model.RecipientID
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.EventID, e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Report summarises a broadcast.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
	Failures  []*TransportError
}

// Notifier renders events and dispatches them through a Sender.
type Notifier struct {
	sender  Sender
	log     *slog.Logger
	workers int
	format  func(model.Event) string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithWorkers bounds the number of sends in flight. Zero or less means unbounded.
func WithWorkers(limit int) Option {
	return func(n *Notifier) { n.workers = limit }
}

// WithFormatter replaces the default message template.
func WithFormatter(f func(model.Event) string) Option {
	return func(n *Notifier) { n.format = f }
}

// New creates a Notifier.
func New(sender Sender, log *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		sender: sender,
		log:    log,
		format: FormatEvent,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type task struct {
	event     model.Event
	recipient model.RecipientID
	text      string
}

// Broadcast sends every event to every recipient and waits for all sends to finish.
// It never fails; delivery errors are logged and listed in the report.
func (n *Notifier) Broadcast(ctx context.Context, events []model.Event, recipients []model.RecipientID) Report {
	tasks := make([]task, 0, len(events)*len(recipients))
	for _, ev := range events {
		text := n.format(ev)
		for _, r := range recipients {
			tasks = append(tasks, task{event: ev, recipient: r, text: text})
		}
	}

	// Each task owns exactly one slot, so no locking is needed.
	results := make([]error, len(tasks))

	var g errgroup.Group
	if n.workers > 0 {
		g.SetLimit(n.workers)
	}
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = n.send(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Attempted: len(tasks)}
	for i, err := range results {
		if err == nil {
			rep.Succeeded++
			continue
		}
		rep.Failed++
		rep.Failures = append(rep.Failures, &TransportError{
			EventID:   tasks[i].event.ID(),
			Recipient: tasks[i].recipient,
			Err:       err,
		})
	}
	return rep
}

func (n *Notifier) send(ctx context.Context, t task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sender panic: %v", p)
		}
		if err != nil {
			n.log.Error("send notification", "event_id", t.event.ID(), "chat_id", t.recipient, "error", err)
		}
	}()
	return n.sender.Send(ctx, t.recipient, t.text)
}

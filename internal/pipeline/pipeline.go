// Package pipeline runs one notification pass: load the seen set, fetch the
// listing, announce new events and persist the merged set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ticket_bot/internal/dedup"
	"ticket_bot/internal/fetcher"
	"ticket_bot/internal/metrics"
	"ticket_bot/internal/model"
	"ticket_bot/internal/notifier"
	"ticket_bot/internal/storage"
)

// State is a step of a run.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateFetching   State = "fetching"
	StateDiffing    State = "diffing"
	StateNotifying  State = "notifying"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

// Outcome summarises a finished run.
type Outcome string

const (
	OutcomeNoNewEvents  Outcome = "no new events"
	OutcomeNoRecipients Outcome = "no recipients"
	OutcomeSent         Outcome = "notifications sent"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Broadcaster delivers events to recipients.
type Broadcaster interface {
	Broadcast(ctx context.Context, events []model.Event, recipients []model.RecipientID) notifier.Report
}

// Result describes where a run ended and what it did.
type Result struct {
	State      State
	Outcome    Outcome
	NewEvents  []model.Event
	Recipients []model.RecipientID
	Report     notifier.Report
	Duration   time.Duration
}

// Summary is a one-line human-readable description of a finished run.
func (r Result) Summary() string {
	switch r.Outcome {
	case OutcomeNoNewEvents:
		return "No new events"
	case OutcomeNoRecipients:
		return fmt.Sprintf("No subscribers, %d new event(s) marked as seen", len(r.NewEvents))
	case OutcomeSent:
		return fmt.Sprintf("Notifications sent: %d new event(s), %d recipient(s), %d delivered, %d failed",
			len(r.NewEvents), len(r.Recipients), r.Report.Succeeded, r.Report.Failed)
	}
	return string(r.State)
}

// Pipeline owns the collaborators of a run. It is safe for concurrent use;
// overlapping runs are rejected.
type Pipeline struct {
	source  fetcher.Source
	seen    storage.SeenStore
	dir     storage.RecipientDirectory
	notify  Broadcaster
	metrics *metrics.Metrics
	log     *slog.Logger
	tracer  trace.Tracer

	mu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline. dir may be nil, in which case runs have no recipients.
func New(source fetcher.Source, seen storage.SeenStore, dir storage.RecipientDirectory, notify Broadcaster, log *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		source: source,
		seen:   seen,
		dir:    dir,
		notify: notify,
		log:    log,
		tracer: otel.Tracer("ticket_bot/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one pass. Load, fetch and directory failures abort the run
// before anything is sent or saved. Once notifying starts, cancellation of ctx
// no longer interrupts the run.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if !p.mu.TryLock() {
		return Result{State: StateIdle}, ErrRunInProgress
	}
	defer p.mu.Unlock()

	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	start := time.Now()
	res, err := p.run(ctx)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("pipeline.state", string(res.State)),
		attribute.String("pipeline.outcome", string(res.Outcome)),
		attribute.Int("pipeline.new_events", len(res.NewEvents)),
		attribute.Int("pipeline.recipients", len(res.Recipients)),
	)
	outcome := string(res.Outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = "error"
		p.log.Error("pipeline run aborted", "state", res.State, "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
		p.log.Info("pipeline run finished",
			"outcome", res.Outcome,
			"new_events", len(res.NewEvents),
			"recipients", len(res.Recipients),
			"failed", res.Report.Failed,
			"duration", res.Duration,
		)
	}
	p.metrics.ObserveRun(outcome, res.Duration)
	return res, err
}

func (p *Pipeline) run(ctx context.Context) (Result, error) {
	res := Result{State: StateLoading}
	seen, err := p.seen.Load(ctx)
	if err != nil {
		res.State = StateAborted
		return res, fmt.Errorf("load seen events: %w", err)
	}

	res.State = StateFetching
	fetched, err := p.source.Fetch(ctx)
	if err != nil {
		res.State = StateAborted
		return res, fmt.Errorf("fetch events: %w", err)
	}

	res.State = StateDiffing
	newEvents, updated := dedup.Diff(seen, fetched)
	p.log.Debug("diffed events", "fetched", len(fetched), "seen", seen.Len(), "count", len(newEvents))
	if len(newEvents) == 0 {
		res.State = StateDone
		res.Outcome = OutcomeNoNewEvents
		return res, nil
	}
	res.NewEvents = newEvents
	p.metrics.AddNewEvents(len(newEvents))

	res.State = StateNotifying
	if p.dir != nil {
		recipients, err := p.dir.SubscribedRecipients(ctx)
		if err != nil {
			res.State = StateAborted
			var pe *storage.PersistenceError
			if !errors.As(err, &pe) {
				err = &storage.PersistenceError{Op: "list recipients", Err: err}
			}
			return res, fmt.Errorf("list recipients: %w", err)
		}
		res.Recipients = recipients
	}

	// The seen set is persisted even when nobody was notified, so subscribers
	// joining later are not flooded with old listings.
	ctx = context.WithoutCancel(ctx)
	if len(res.Recipients) == 0 {
		res.Outcome = OutcomeNoRecipients
	} else {
		res.Outcome = OutcomeSent
		res.Report = p.broadcast(ctx, newEvents, res.Recipients)
		p.metrics.AddDeliveries(res.Report.Succeeded, res.Report.Failed)
	}

	res.State = StatePersisting
	if err := p.persist(ctx, updated); err != nil {
		res.State = StateAborted
		return res, fmt.Errorf("save seen events: %w", err)
	}
	p.metrics.SetSeen(updated.Len())

	res.State = StateDone
	return res, nil
}

func (p *Pipeline) broadcast(ctx context.Context, events []model.Event, recipients []model.RecipientID) notifier.Report {
	ctx, span := p.tracer.Start(ctx, "pipeline.broadcast", trace.WithAttributes(
		attribute.Int("notify.events", len(events)),
		attribute.Int("notify.recipients", len(recipients)),
	))
	defer span.End()

	rep := p.notify.Broadcast(ctx, events, recipients)
	span.SetAttributes(
		attribute.Int("notify.attempted", rep.Attempted),
		attribute.Int("notify.failed", rep.Failed),
	)
	if rep.Failed > 0 {
		p.log.Warn("some notifications failed", "attempted", rep.Attempted, "failed", rep.Failed)
	}
	return rep
}

func (p *Pipeline) persist(ctx context.Context, updated model.SeenSet) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.persist", trace.WithAttributes(
		attribute.Int("seen.size", updated.Len()),
	))
	defer span.End()

	if err := p.seen.Save(ctx, updated); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

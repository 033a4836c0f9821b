package audit

import (
	"context"
	"log/slog"

	"rulegate/pkg/domain"
	"rulegate/pkg/requestcontext"
)

// Publisher captures structured audit events. The store is the source of
// truth; an optional sink channel fans entries out to external consumers
// (Kafka) without blocking the write path.
type Publisher struct {
	store  Store
	sink   chan<- Entry
	logger *slog.Logger
}

type PublisherOption func(*Publisher)

// WithSink attaches a fan-out channel consumed by a background sink worker.
func WithSink(sink chan<- Entry) PublisherOption {
	return func(p *Publisher) { p.sink = sink }
}

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit persists one entry, filling identity, actor, and timestamp defaults
// from the request context.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	p.prepare(ctx, &entry)
	if err := p.store.Append(ctx, entry); err != nil {
		return err
	}
	p.fanOut(ctx, entry)
	return nil
}

// EmitPair persists two cross-referencing entries atomically. Used by
// publish/rollback so the archive and activation records always appear
// together.
func (p *Publisher) EmitPair(ctx context.Context, first, second Entry) error {
	p.prepare(ctx, &first)
	p.prepare(ctx, &second)
	if err := p.store.AppendPair(ctx, first, second); err != nil {
		return err
	}
	p.fanOut(ctx, first)
	p.fanOut(ctx, second)
	return nil
}

// List returns entries matching the filter.
func (p *Publisher) List(ctx context.Context, filter Filter) ([]Entry, error) {
	return p.store.List(ctx, filter)
}

func (p *Publisher) prepare(ctx context.Context, entry *Entry) {
	if entry.ID.IsNil() {
		entry.ID = domain.NewAuditID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.Actor == "" {
		entry.Actor = requestcontext.ActorID(ctx)
	}
}

// fanOut never blocks: the sink has a bounded buffer and audit durability is
// already guaranteed by the store write.
func (p *Publisher) fanOut(ctx context.Context, entry Entry) {
	if p.sink == nil {
		return
	}
	select {
	case p.sink <- entry:
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit sink buffer full, dropping fan-out copy",
				"entry_id", entry.ID,
				"action", entry.Action,
			)
		}
	}
}

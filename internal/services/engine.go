package services

import (
	"context"

	"recurrent/internal/amqp"
	"recurrent/internal/cache"
	"recurrent/internal/storage"
)

// Engine wires the recurring transaction services over one store.
type Engine struct {
	Locks        *KeyedMutex
	Generator    *Generator
	Resolver     *Resolver
	Templates    *TemplateService
	Transactions *TransactionService
	Scheduler    *Scheduler
}

// NewEngine builds the services. projection may be nil to disable caching of
// the recurring listing; when set it is purged on every committed write.
func NewEngine(store storage.Store, projection cache.Cache[[]RecurringView], sched SchedulerConfig, opts Options) *Engine {
	opts = opts.withDefaults()
	if projection != nil {
		opts.Publisher = &purgingPublisher{projection: projection, next: opts.Publisher}
	}

	locks := NewKeyedMutex()
	gen := NewGenerator(store, locks, opts)
	resolver := NewResolver(store, locks, gen, opts)
	templates := NewTemplateService(store, locks, gen, resolver, opts)

	return &Engine{
		Locks:        locks,
		Generator:    gen,
		Resolver:     resolver,
		Templates:    templates,
		Transactions: NewTransactionService(store, templates, resolver, projection, opts),
		Scheduler:    NewScheduler(store, gen, sched, opts),
	}
}

// purgingPublisher drops the cached projection before forwarding an event.
// Every committed write that changes a template publishes one.
type purgingPublisher struct {
	projection interface{ Purge() }
	next       Publisher
}

func (p *purgingPublisher) Publish(ctx context.Context, event *amqp.Event) error {
	p.projection.Purge()
	if p.next == nil {
		return nil
	}
	return p.next.Publish(ctx, event)
}

package services

import (
	"context"
	"log/slog"
	"time"

	"recurrent/internal/amqp"
	"recurrent/internal/core"
	"recurrent/internal/log"

	"github.com/google/uuid"
)

// Publisher sends lifecycle events. *amqp.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event *amqp.Event) error
}

// Options holds the policy and collaborators shared by the engine services.
// Zero values are replaced by defaults.
type Options struct {
	Location      *time.Location
	HorizonCycles int
	AnchorPolicy  core.AnchorPolicy
	StaleAfter    time.Duration

	Now       func() time.Time
	NewID     func() string
	Publisher Publisher
	Logger    *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.HorizonCycles < 0 {
		o.HorizonCycles = 0
	}
	if !o.AnchorPolicy.IsValid() {
		o.AnchorPolicy = core.AnchorFirstOfMonth
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Logger == nil {
		o.Logger = log.New(log.Config{Handler: slog.Default().Handler()})
	}
	return o
}

// today returns the current calendar day in the engine's location.
func (o Options) today() core.Day {
	return core.NormalizeIn(o.Now(), o.Location)
}

// horizon returns the last day the engine materializes for an interval,
// HorizonCycles steps after today.
func (o Options) horizon(today core.Day, interval core.Interval) core.Day {
	h, err := core.Advance(today, interval, o.HorizonCycles)
	if err != nil {
		return today
	}
	return h
}

// publish sends an event after a commit. Failures are logged, never returned:
// the write already happened.
func (o Options) publish(ctx context.Context, event *amqp.Event) {
	if o.Publisher == nil {
		return
	}
	if err := o.Publisher.Publish(ctx, event); err != nil {
		o.Logger.WithComponent(log.ComponentAMQP).WarnContext(ctx, "Failed to publish event",
			"type", event.Type,
			log.FieldTemplateID, event.TemplateID,
			log.FieldError, err)
	}
}

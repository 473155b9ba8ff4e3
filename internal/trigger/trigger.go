package trigger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"oiwatch/internal/scheduler"
)

// CycleFunc runs one detection cycle.
type CycleFunc func(ctx context.Context) error

// Source decides when detection cycles run. Run blocks until ctx is
// cancelled and returns only after the in-flight cycle finished; a graceful
// stop returns nil.
type Source interface {
	Name() string
	Run(ctx context.Context, cycle CycleFunc) error
}

// PollOptions configure the fixed-interval trigger.
type PollOptions struct {
	Interval   time.Duration
	Align      bool
	RunOnStart bool
}

// Poll fires a cycle on a fixed interval.
type Poll struct {
	sched *scheduler.Scheduler
}

// NewPoll builds a polling trigger on top of the scheduler.
func NewPoll(opts PollOptions, logger zerolog.Logger) *Poll {
	return &Poll{
		sched: scheduler.New(scheduler.Options{
			Name:         "trigger_poll",
			Interval:     opts.Interval,
			AlignToStart: opts.Align,
			RunOnStart:   opts.RunOnStart,
		}, logger),
	}
}

// Name identifies the trigger in logs.
func (p *Poll) Name() string {
	return "poll"
}

// Run drives cycle until ctx is cancelled.
func (p *Poll) Run(ctx context.Context, cycle CycleFunc) error {
	err := p.sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		return cycle(context.WithoutCancel(tickCtx))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

var _ Source = (*Poll)(nil)

package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"oiwatch/internal/storage"
)

// Subscription yields insert events, one token symbol per event.
type Subscription interface {
	Wait(ctx context.Context) (string, error)
	Close()
}

// Subscriber opens subscriptions to a notification channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// PushOptions configure the event-driven trigger.
type PushOptions struct {
	Channel string
	// CatchUp runs one cycle as soon as the first subscription is up, for
	// rows inserted while nobody listened. Reconnects always catch up.
	CatchUp bool
	// FallbackInterval, when positive, also runs a cycle periodically.
	FallbackInterval time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// Push runs a cycle whenever the store announces new rows. Events that
// arrive while a cycle runs collapse into one pending wake-up, so none is
// lost and none causes more than one extra cycle.
type Push struct {
	subscriber Subscriber
	opts       PushOptions
	logger     zerolog.Logger

	received atomic.Int64
}

// NewPush builds a push trigger.
func NewPush(subscriber Subscriber, opts PushOptions, logger zerolog.Logger) *Push {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Push{
		subscriber: subscriber,
		opts:       opts,
		logger:     logger.With().Str("component", "trigger_push").Str("channel", opts.Channel).Logger(),
	}
}

// Name identifies the trigger in logs.
func (p *Push) Name() string {
	return "push"
}

// Run listens and drives cycle until ctx is cancelled.
func (p *Push) Run(ctx context.Context, cycle CycleFunc) error {
	wake := make(chan struct{}, 1)

	listenCtx, stopListen := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.listen(listenCtx, wake)
	}()
	defer func() {
		stopListen()
		wg.Wait()
	}()

	var fallback <-chan time.Time
	if p.opts.FallbackInterval > 0 {
		ticker := time.NewTicker(p.opts.FallbackInterval)
		defer ticker.Stop()
		fallback = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			if ctx.Err() != nil {
				return nil
			}
			p.runCycle(ctx, cycle, "wake")
		case <-fallback:
			if ctx.Err() != nil {
				return nil
			}
			p.runCycle(ctx, cycle, "fallback")
		}
	}
}

func (p *Push) runCycle(ctx context.Context, cycle CycleFunc, reason string) {
	events := p.received.Swap(0)
	p.logger.Debug().Str("reason", reason).Int64("events", events).Msg("running triggered cycle")
	if err := cycle(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error().Err(err).Str("reason", reason).Msg("detection cycle failed")
	}
}

func (p *Push) listen(ctx context.Context, wake chan<- struct{}) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = p.opts.InitialBackoff
	retry.MaxInterval = p.opts.MaxBackoff
	retry.MaxElapsedTime = 0
	retry.Reset()

	connected := false
	for ctx.Err() == nil {
		sub, err := p.subscriber.Subscribe(ctx, p.opts.Channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			p.logger.Error().Err(err).Dur("retry_in", wait).Msg("subscribe failed")
			sleep(ctx, wait)
			continue
		}
		retry.Reset()
		p.logger.Info().Msg("listening for observation inserts")
		// LISTEN is live, so this cycle covers rows committed while it was not
		if connected || p.opts.CatchUp {
			signal(wake)
		}
		connected = true

		err = p.pump(ctx, sub, wake)
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		wait := retry.NextBackOff()
		p.logger.Warn().Err(err).Dur("retry_in", wait).Msg("subscription lost")
		sleep(ctx, wait)
	}
}

func (p *Push) pump(ctx context.Context, sub Subscription, wake chan<- struct{}) error {
	for {
		symbol, err := sub.Wait(ctx)
		if err != nil {
			return err
		}
		p.received.Add(1)
		p.logger.Trace().Str("symbol", symbol).Msg("insert event")
		signal(wake)
	}
}

// signal leaves at most one pending wake-up.
func signal(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// StoreSubscriber adapts the Postgres store's LISTEN support.
type StoreSubscriber struct {
	Store *storage.Store
}

// Subscribe opens a LISTEN connection on channel.
func (s StoreSubscriber) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub, err := s.Store.Listen(ctx, channel)
	if err != nil {
		return nil, err
	}
	return storeSubscription{sub: sub}, nil
}

type storeSubscription struct {
	sub *storage.Subscription
}

func (s storeSubscription) Wait(ctx context.Context) (string, error) {
	note, err := s.sub.Wait(ctx)
	if err != nil {
		return "", err
	}
	return note.Symbol, nil
}

func (s storeSubscription) Close() {
	s.sub.Close()
}

var (
	_ Source     = (*Push)(nil)
	_ Subscriber = StoreSubscriber{}
)

package archive

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"go-relay/internal/relay"
)

// Store persists a batch of chat events. *Repository is the Postgres implementation.
type Store interface {
	SaveEvents(ctx context.Context, events []relay.ChatEvent) error
}

type WriterOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Writer is a relay.Listener that batches events into a Store off the hot path.
// When its queue is full events are dropped: the archive is best effort.
type Writer struct {
	store Store
	queue chan relay.ChatEvent
	opts  WriterOptions
	log   zerolog.Logger

	dropped atomic.Int64
}

var _ relay.Listener = (*Writer)(nil)

func NewWriter(store Store, opts WriterOptions, log zerolog.Logger) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &Writer{
		store: store,
		queue: make(chan relay.ChatEvent, opts.QueueSize),
		opts:  opts,
		log:   log,
	}
}

// OnChat queues ev without blocking.
func (w *Writer) OnChat(ev relay.ChatEvent) {
	select {
	case w.queue <- ev:
	default:
		if n := w.dropped.Add(1); n%100 == 1 {
			w.log.Warn().Int64("dropped", n).Msg("archive queue full, dropping events")
		}
	}
}

// Dropped reports how many events never reached the queue.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Run flushes batches until ctx is cancelled, then drains what is queued.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]relay.ChatEvent, 0, w.opts.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.SaveEvents(ctx, batch); err != nil {
			w.log.Error().Err(err).Int("events", len(batch)).Msg("archive flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-w.queue:
			batch = append(batch, ev)
			if len(batch) >= w.opts.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)

		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-w.queue:
					batch = append(batch, ev)
					if len(batch) >= w.opts.BatchSize {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return nil
				}
			}
		}
	}
}

package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum/event"
)

// EventSink receives committed ledger events. Sinks must be safe for
// concurrent use; events may reach a sink out of commit order when more
// than one worker runs.
type EventSink interface {
	Name() string
	Handle(ctx context.Context, evt *domain.LedgerEvent) error
}

type EventSource interface {
	SubscribeEvents(ch chan<- *domain.LedgerEvent) event.Subscription
}

type DispatchRecorder interface {
	RecordEventDispatch(sink string, success bool)
}

type EventDispatcher struct {
	sinks        []EventSink
	queue        chan *domain.LedgerEvent
	workers      int
	sinkTimeout  time.Duration
	recorder     DispatchRecorder
	subs         []event.Subscription
	subsMu       sync.Mutex
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	forwarders   sync.WaitGroup
	wg           sync.WaitGroup
	logger       *slog.Logger
}

func NewEventDispatcher(sinks []EventSink, workers int, recorder DispatchRecorder, logger *slog.Logger) *EventDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	d := &EventDispatcher{
		sinks:        sinks,
		queue:        make(chan *domain.LedgerEvent, 1000),
		workers:      workers,
		sinkTimeout:  5 * time.Second,
		recorder:     recorder,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	d.startWorkers()

	return d
}

// Attach subscribes to source and forwards its events into the dispatch queue.
func (d *EventDispatcher) Attach(source EventSource) {
	ch := make(chan *domain.LedgerEvent, 256)
	sub := source.SubscribeEvents(ch)

	d.subsMu.Lock()
	d.subs = append(d.subs, sub)
	d.subsMu.Unlock()

	d.forwarders.Add(1)
	go func() {
		defer d.forwarders.Done()
		for {
			select {
			case evt := <-ch:
				select {
				case d.queue <- evt:
				case <-d.shutdownChan:
					d.offer(evt)
					d.flush(ch)
					return
				}
			case err := <-sub.Err():
				if err != nil {
					d.logger.Error("Event subscription failed", slog.String("error", err.Error()))
				}
				d.flush(ch)
				return
			case <-d.shutdownChan:
				d.flush(ch)
				return
			}
		}
	}()
}

// flush moves events already buffered on ch into the queue.
func (d *EventDispatcher) flush(ch <-chan *domain.LedgerEvent) {
	for {
		select {
		case evt := <-ch:
			d.offer(evt)
		default:
			return
		}
	}
}

func (d *EventDispatcher) offer(evt *domain.LedgerEvent) {
	select {
	case d.queue <- evt:
	default:
		d.logger.Error("Dropped ledger event, queue full", slog.String("event_id", evt.ID))
	}
}

func (d *EventDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

func (d *EventDispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Info("Event worker started", slog.Int("worker_id", id))

	for {
		select {
		case evt := <-d.queue:
			d.dispatch(evt, id)
		case <-d.shutdownChan:
			d.forwarders.Wait()
			d.drain(id)
			d.logger.Info("Event worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

// drain delivers whatever is still queued at shutdown.
func (d *EventDispatcher) drain(workerID int) {
	for {
		select {
		case evt := <-d.queue:
			d.dispatch(evt, workerID)
		default:
			return
		}
	}
}

func (d *EventDispatcher) dispatch(evt *domain.LedgerEvent, workerID int) {
	for _, sink := range d.sinks {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := sink.Handle(ctx, evt)
		cancel()
		duration := time.Since(startTime)

		if d.recorder != nil {
			d.recorder.RecordEventDispatch(sink.Name(), err == nil)
		}

		if err != nil {
			d.logger.Error("Failed to deliver ledger event",
				slog.String("sink", sink.Name()),
				slog.String("event_id", evt.ID),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
				slog.Duration("duration", duration))
			continue
		}
		d.logger.Debug("Ledger event delivered",
			slog.String("sink", sink.Name()),
			slog.String("event_id", evt.ID),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	}
}

func (d *EventDispatcher) Shutdown(ctx context.Context) error {
	d.subsMu.Lock()
	for _, sub := range d.subs {
		sub.Unsubscribe()
	}
	d.subs = nil
	d.subsMu.Unlock()

	d.shutdownOnce.Do(func() { close(d.shutdownChan) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Event dispatcher shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

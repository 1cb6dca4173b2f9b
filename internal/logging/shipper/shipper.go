package shipper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
	"github.com/Chichichkin/CWLoggingAgent/internal/logging/queue"
)

// Shipper moves events from the producer queue to the log channel from a
// single worker goroutine. A batch the channel rejects is dropped (and
// archived when an archive is configured); a failed stream open stops the
// worker for good.
type Shipper struct {
	ctx     context.Context
	stopCtx context.CancelFunc
	wg      sync.WaitGroup

	config  logging.Config
	channel logging.LogChannel
	sink    logging.ErrorSink
	archive logging.BatchArchive
	metrics *ShipperMetrics
	queue   *queue.Queue
	namer   StreamNamer
	now     func() time.Time

	// touched by the run goroutine only
	origin string
	stream string
}

func NewShipper(ctx context.Context, config logging.Config, channel logging.LogChannel, sink logging.ErrorSink, archive logging.BatchArchive) *Shipper {
	nCtx, cancel := context.WithCancel(ctx)
	return &Shipper{
		ctx:     nCtx,
		stopCtx: cancel,
		config:  config,
		channel: channel,
		sink:    sink,
		archive: archive,
		metrics: &ShipperMetrics{},
		queue:   queue.New(config.QueueCapacity),
		namer:   NewStreamNamer(config.StreamName, config.StreamTimeLayout),
		now:     time.Now,
	}
}

func (s *Shipper) Append(event logging.Event) {
	if s.queue.Put(event) {
		s.metrics.IncEventsEnqueued()
	} else {
		s.metrics.IncEventsDropped()
	}
}

func (s *Shipper) Start() {
	s.wg.Add(2)
	go s.run()
	go s.metricsReporter()
}

// Shutdown asks the worker to terminate without waiting for it. Idempotent,
// callable from any goroutine.
func (s *Shipper) Shutdown() {
	s.stopCtx()
}

// Stop waits for the worker to exit. Events still queued are not flushed.
func (s *Shipper) Stop() {
	s.Shutdown()
	s.wg.Wait()
}

func (s *Shipper) run() {
	defer s.wg.Done()

	buf := make([]logging.Event, 0, s.config.QueueCapacity)
	for {
		batch, skipped := s.queue.Drain(s.ctx, buf[:0])
		if s.ctx.Err() != nil {
			return
		}

		s.latchOrigin(batch)
		if skipped > 0 && s.origin != "" {
			batch = append(batch, logging.SkippedEvent(skipped, s.origin, s.now()))
		}
		if len(batch) == 0 {
			continue
		}

		if err := s.openStream(); err != nil {
			s.sink.Error("giving up on log shipping", err)
			return
		}
		s.shipBatch(batch)
		buf = batch
	}
}

// latchOrigin pins the provenance used for synthetic events, taken from the
// head of the first drained batch that carries one. Never cleared, so drops
// seen before then go unreported.
func (s *Shipper) latchOrigin(batch []logging.Event) {
	if s.origin != "" || len(batch) == 0 {
		return
	}
	s.origin = batch[0].Origin
}

func (s *Shipper) openStream() error {
	name := s.namer.Name(s.now())
	if s.channel.Ready() && name == s.stream {
		return nil
	}
	if err := s.channel.Open(s.ctx, name); err != nil {
		return err
	}
	s.stream = name
	s.metrics.IncStreamOpens()
	return nil
}

func (s *Shipper) shipBatch(batch []logging.Event) {
	if err := s.channel.Append(s.ctx, batch); err != nil {
		s.metrics.IncBatchesFailed()
		s.sink.Error(fmt.Sprintf("dropping batch of %d events", len(batch)), err)
		s.archiveBatch(batch)
		return
	}
	s.metrics.IncBatchesShipped()
	s.metrics.AddEventsShipped(len(batch))
}

func (s *Shipper) archiveBatch(batch []logging.Event) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Store(s.ctx, batch); err != nil {
		s.sink.Error("archiving failed batch", err)
		return
	}
	s.metrics.IncBatchesArchived()
}

func (s *Shipper) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := s.metrics.GetMetricsStamp()
			log.Printf(
				"Metrics: queue=%d/%d, enqueued=%d, dropped=%d (%d%%), shipped=%d events in %d batches, failed batches=%d, archived=%d, stream opens=%d",
				s.queue.Len(), s.queue.Cap(),
				metrics.EventsEnqueued,
				metrics.EventsDropped, int(s.metrics.GetDropRate()*100),
				metrics.EventsShipped, metrics.BatchesShipped,
				metrics.BatchesFailed,
				metrics.BatchesArchived,
				metrics.StreamOpens,
			)
		case <-s.ctx.Done():
			return
		}
	}
}

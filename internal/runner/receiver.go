package runner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lister-potter/Socket-Benchmarks/internal/correlation"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/protocol"
	"github.com/lister-potter/Socket-Benchmarks/internal/websocket"
)

// receiver reads one connection's inbound frames and correlates them with
// the sends waiting in its queue.
type receiver struct {
	conn       Transport
	queue      *correlation.Queue
	collector  *metrics.Collector
	bids       *metrics.BidTracker
	retryDelay time.Duration
	logger     *zap.Logger

	lotID    string
	bidderID string
}

func newReceiver(conn Transport, queue *correlation.Queue, opt *Options) *receiver {
	id := conn.ID()
	return &receiver{
		conn:       conn,
		queue:      queue,
		collector:  opt.Collector,
		bids:       opt.Bids,
		retryDelay: opt.ReadRetryDelay,
		logger:     opt.Logger.With(zap.Int("client", id)),
		lotID:      protocol.LotForClient(id),
		bidderID:   protocol.BidderForClient(id),
	}
}

// run reads until ctx is cancelled or the connection ends.
func (r *receiver) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := r.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if websocket.IsClosure(err) || !r.conn.Alive() {
				r.conn.MarkDead()
				r.collector.RecordConnectionError(err)
				r.logger.Debug("connection closed", zap.Error(err))
				return
			}
			r.logger.Debug("transient read error", zap.Error(err))
			select {
			case <-time.After(r.retryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		if msg.Type != websocket.TextMessage {
			continue
		}
		r.handle(msg)
	}
}

func (r *receiver) handle(msg websocket.Message) {
	frame, err := protocol.Decode(msg.Data)
	if err != nil {
		r.logger.Debug("skipping undecodable frame", zap.Error(err))
		return
	}

	switch frame.Kind {
	case protocol.KindOutbound:
		// Our own request reflected back: throughput only.
		r.collector.RecordUncorrelated()

	case protocol.KindEcho:
		echo := frame.Echo
		if echo.MessageID == 0 {
			return
		}
		if echo.ClientID != r.conn.ID() {
			r.mismatch()
			return
		}
		entry, ok := r.queue.Take(echo.MessageID)
		if !ok {
			r.mismatch()
			return
		}
		r.record(entry, msg.ReceivedAt)

	case protocol.KindLotUpdate:
		r.popAndRecord(msg.ReceivedAt)
		if r.bids != nil && frame.Update.Bidder() == r.bidderID {
			lot := frame.Update.LotID
			if lot == "" {
				lot = r.lotID
			}
			if _, err := r.bids.RecordAccepted(lot, r.bidderID); err != nil {
				r.logger.Debug("bid acceptance not tracked", zap.Error(err))
			}
		}

	case protocol.KindError:
		r.popAndRecord(msg.ReceivedAt)
		if r.bids != nil {
			reason := metrics.ClassifyFailure(frame.Error.Message)
			if _, err := r.bids.RecordFailed(r.lotID, r.bidderID, reason); err != nil {
				r.logger.Debug("bid failure not tracked", zap.Error(err))
			}
		}

	default:
		r.logger.Debug("unknown message type", zap.String("type", frame.Type))
		r.mismatch()
	}
}

// popAndRecord matches a protocol reply to the oldest pending request.
func (r *receiver) popAndRecord(receivedAt time.Time) {
	entry, ok := r.queue.Pop()
	if !ok {
		r.mismatch()
		return
	}
	r.record(entry, receivedAt)
}

func (r *receiver) record(entry correlation.Entry, receivedAt time.Time) {
	latency := receivedAt.Sub(entry.SentAt)
	if latency < 0 {
		latency = 0
	}
	r.collector.RecordReceived(metrics.LatencySample{
		MessageID: entry.MessageID,
		ClientID:  r.conn.ID(),
		LatencyMs: float64(latency) / float64(time.Millisecond),
	})
}

// mismatch counts a reply that matched nothing; it still counts toward
// throughput.
func (r *receiver) mismatch() {
	r.collector.RecordMismatch()
	r.collector.RecordUncorrelated()
}

package runner

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lister-potter/Socket-Benchmarks/internal/config"
	"github.com/lister-potter/Socket-Benchmarks/internal/correlation"
	"github.com/lister-potter/Socket-Benchmarks/internal/metrics"
	"github.com/lister-potter/Socket-Benchmarks/internal/protocol"
	"github.com/lister-potter/Socket-Benchmarks/internal/websocket"
)

// Transport is the slice of a client session the send and receive loops use.
type Transport interface {
	ID() int
	Alive() bool
	MarkDead()
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) (websocket.Message, error)
}

// burstWindows is the number of burst windows per second.
const burstWindows = 10

// messageSeq issues process-wide unique message ids, starting at 1.
var messageSeq atomic.Int64

func nextMessageID() int64 { return messageSeq.Add(1) }

// sender drives one connection's outbound traffic.
type sender struct {
	conn      Transport
	queue     *correlation.Queue
	collector *metrics.Collector
	bids      *metrics.BidTracker
	bidSeq    *atomic.Int64 // shared by all senders of a run
	pattern   config.Pattern
	mode      config.Mode
	rate      float64
	size      int
	duration  time.Duration
	joinWait  time.Duration
	rng       *rand.Rand
	logger    *zap.Logger

	lotID    string
	bidderID string
}

func newSender(conn Transport, queue *correlation.Queue, opt *Options, bidSeq *atomic.Int64) *sender {
	id := conn.ID()
	return &sender{
		conn:      conn,
		queue:     queue,
		collector: opt.Collector,
		bids:      opt.Bids,
		bidSeq:    bidSeq,
		pattern:   opt.Pattern,
		mode:      opt.Mode,
		rate:      opt.Rate,
		size:      opt.MessageSize,
		duration:  opt.Duration,
		joinWait:  opt.JoinWait,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		logger:    opt.Logger.With(zap.Int("client", id)),
		lotID:     protocol.LotForClient(id),
		bidderID:  protocol.BidderForClient(id),
	}
}

// run sends until ctx ends or the connection dies. ctx carries the run's
// send deadline.
func (s *sender) run(ctx context.Context) {
	if s.mode == config.ModeAuction && !s.join(ctx) {
		return
	}

	var err error
	switch s.pattern {
	case config.PatternBurst:
		err = s.runBurst(ctx)
	case config.PatternRampUp:
		err = s.runRampUp(ctx)
	default:
		err = s.runFixedRate(ctx)
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("sender stopped", zap.Error(err))
	}
}

func (s *sender) runFixedRate(ctx context.Context) error {
	clock, err := NewPacedClock(s.rate)
	if err != nil {
		return err
	}
	for {
		if err := clock.Next(ctx); err != nil {
			return err
		}
		if !s.sendOne(ctx) {
			return nil
		}
	}
}

func (s *sender) runBurst(ctx context.Context) error {
	windows, err := NewPacedClock(burstWindows)
	if err != nil {
		return err
	}
	perWindow := int(s.rate) / burstWindows
	if perWindow < 1 {
		perWindow = 1
	}
	for {
		if err := windows.Next(ctx); err != nil {
			return err
		}
		for i := 0; i < perWindow; i++ {
			if !s.sendOne(ctx) {
				return nil
			}
		}
	}
}

// rampCheckInterval bounds how long the ramp loop waits before re-reading
// the target rate.
const rampCheckInterval = 100 * time.Millisecond

// runRampUp follows the ramp plan, re-rating the clock when the target moves
// more than rampTolerance. A client whose rate is within rampTolerance of
// minRampRate never re-rates mid-ramp: it sends once at start and then
// jumps to the full rate when the ramp ends.
func (s *sender) runRampUp(ctx context.Context) error {
	plan := compileRampPlan(s.rate, s.duration)
	clock, err := NewPacedClock(minRampRate)
	if err != nil {
		return err
	}
	start := time.Now()

	for {
		elapsed := time.Since(start)
		target, _ := plan.rateAt(elapsed)
		target = math.Max(target, minRampRate)
		current := clock.Rate()
		if math.Abs(target-current) > rampTolerance || (plan.rampedUp(elapsed) && current != s.rate) {
			if plan.rampedUp(elapsed) {
				target = s.rate
			}
			if err := clock.SetRate(target); err != nil {
				return err
			}
		}

		ok, err := clock.NextWithin(ctx, rampCheckInterval)
		if err != nil {
			return err
		}
		if ok && !s.sendOne(ctx) {
			return nil
		}
	}
}

// join subscribes to the client's lot and pauses briefly for the ack.
func (s *sender) join(ctx context.Context) bool {
	data, err := json.Marshal(protocol.NewJoinLot(s.lotID))
	if err != nil {
		return false
	}
	if !s.transmit(ctx, nextMessageID(), data) {
		return false
	}
	select {
	case <-time.After(s.joinWait):
		return true
	case <-ctx.Done():
		return false
	}
}

// sendOne builds and writes the next message. It reports whether the loop
// should go on.
func (s *sender) sendOne(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	id := nextMessageID()

	var data []byte
	var err error
	if s.mode == config.ModeAuction {
		amount := protocol.BaseBid(s.conn.ID()) + float64(s.bidSeq.Add(1))*10
		data, err = json.Marshal(protocol.NewPlaceBid(s.lotID, s.bidderID, amount))
		if err == nil && s.bids != nil {
			if recErr := s.bids.RecordPlaced(s.lotID, s.bidderID, amount); recErr != nil {
				s.logger.Debug("bid not tracked", zap.Error(recErr))
			}
		}
	} else {
		payload := make([]byte, s.size)
		s.rng.Read(payload)
		data, err = json.Marshal(protocol.EchoMessage{
			MessageID:     id,
			ClientID:      s.conn.ID(),
			SentTimestamp: time.Now().UTC(),
			Payload:       payload,
		})
	}
	if err != nil {
		s.logger.Debug("encode failed", zap.Error(err))
		return true
	}
	return s.transmit(ctx, id, data)
}

// transmit registers the pending correlation, then writes. A failed write is
// neither retried nor counted as sent.
func (s *sender) transmit(ctx context.Context, id int64, data []byte) bool {
	s.queue.Push(id, time.Now())
	if err := s.conn.Send(ctx, data); err != nil {
		s.queue.Take(id)
		if ctx.Err() != nil {
			return false
		}
		if !s.conn.Alive() {
			s.logger.Debug("connection lost while sending", zap.Error(err))
			return false
		}
		s.logger.Debug("send failed", zap.Error(err))
		return true
	}
	s.collector.RecordSent(len(data))
	return true
}

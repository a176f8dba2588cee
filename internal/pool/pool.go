// Package pool opens and closes the set of client connections used by a run.
package pool

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultMaxInFlight caps concurrent connection attempts.
const DefaultMaxInFlight = 100

// Poolable is a client connection the pool can open and close.
type Poolable interface {
	Connect(ctx context.Context) error
	Close() error
	Alive() bool
}

// Options configure a ConnectionPool.
type Options struct {
	MaxInFlight    int                                // concurrent connection attempts (default 100)
	ConnectRate    float64                            // connection attempts per second (0 means unlimited)
	SettleDelay    time.Duration                      // pause after connecting before liveness is read (default 100ms, negative disables)
	OnError        func(id int, err error)            // called for each failed attempt
	LimiterFactory func(perSec float64) *rate.Limiter // optional injection for tests
	Logger         *zap.Logger
}

func (o *Options) normalize() {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = DefaultMaxInFlight
	}
	if o.ConnectRate < 0 {
		o.ConnectRate = 0
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(perSec float64) *rate.Limiter {
			burst := int(perSec)
			if burst < 1 {
				burst = 1
			}
			return rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// ConnectionPool establishes client connections with bounded concurrency.
type ConnectionPool[C Poolable] struct {
	opt     Options
	factory func(id int) C
}

// New creates a pool that builds client id i with factory(i).
func New[C Poolable](factory func(id int) C, opt Options) *ConnectionPool[C] {
	opt.normalize()
	return &ConnectionPool[C]{opt: opt, factory: factory}
}

// Connect attempts count connections and returns all of them, including the
// ones that failed to open. Callers filter with Alive. Partial connectivity is
// logged, not returned as an error.
func (p *ConnectionPool[C]) Connect(ctx context.Context, count int) []C {
	if count <= 0 {
		return nil
	}

	var limiter *rate.Limiter
	if p.opt.ConnectRate > 0 {
		limiter = p.opt.LimiterFactory(p.opt.ConnectRate)
	}

	conns := make([]C, count)
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.opt.MaxInFlight)

	start := time.Now()
	for i := 0; i < count; i++ {
		conns[i] = p.factory(i)
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				// Cancelled: the remaining connections stay unopened.
				for j := i + 1; j < count; j++ {
					conns[j] = p.factory(j)
				}
				failed.Add(int64(count - i))
				break
			}
		}

		id, conn := i, conns[i]
		g.Go(func() error {
			if err := conn.Connect(ctx); err != nil {
				failed.Add(1)
				p.opt.Logger.Debug("connection failed", zap.Int("client", id), zap.Error(err))
				if p.opt.OnError != nil {
					p.opt.OnError(id, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if p.opt.SettleDelay > 0 {
		select {
		case <-time.After(p.opt.SettleDelay):
		case <-ctx.Done():
		}
	}

	live := CountAlive(conns)
	p.opt.Logger.Info("connections established",
		zap.Int("requested", count),
		zap.Int("live", live),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)))
	if live < count {
		p.opt.Logger.Warn("not all clients connected",
			zap.Int("requested", count),
			zap.Int("live", live))
	}
	return conns
}

// CountAlive returns how many connections are live.
func CountAlive[C Poolable](conns []C) int {
	n := 0
	for _, c := range conns {
		if c.Alive() {
			n++
		}
	}
	return n
}

// Alive filters conns down to the live ones.
func Alive[C Poolable](conns []C) []C {
	out := make([]C, 0, len(conns))
	for _, c := range conns {
		if c.Alive() {
			out = append(out, c)
		}
	}
	return out
}

// CloseAll closes every connection, live or not, ignoring errors.
func CloseAll[C Poolable](conns []C) {
	for _, c := range conns {
		_ = c.Close()
	}
}

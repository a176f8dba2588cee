// Package runner drives one WebSocket benchmark run.
//
// A [Runner] opens the requested client sessions through the connection
// pool, starts one sender and one receiver per live session, stops sending
// when the configured duration elapses, waits a grace period for in-flight
// replies, closes everything and returns a [RunMetrics].
//
// # Basic Usage
//
//	r, err := runner.New(runner.Options{
//		URL:      "ws://localhost:5000/ws",
//		Clients:  100,
//		Rate:     10,
//		Duration: 30 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	result, err := r.Run(ctx)
//
// # Send Patterns
//
// Each sender paces itself with a [PacedClock]:
//   - fixed-rate: one message per 1/rate seconds
//   - burst: rate/10 messages back to back, ten times per second
//   - ramp-up: a linear climb from zero to rate over min(10s, 30% of the
//     run), then a hold at rate
//
// # Modes
//
// In echo mode every message carries its own id and the reply is matched by
// that id. In auction mode each client joins lot-(id%10+1) and places
// increasing bids; replies carry no id and are matched to the oldest pending
// request on the session.
//
// # Lifecycle
//
// [Runner.State] moves through idle, connecting, running, draining and
// closed. A run with no live sessions still completes and reports zero
// traffic.
package runner

package metrics

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrInvalidArgument is returned when a bid is recorded without a lot or bidder.
var ErrInvalidArgument = errors.New("invalid argument")

// BidOutcome is the terminal state of a bid attempt.
type BidOutcome string

const (
	OutcomeAccepted BidOutcome = "Accepted"
	OutcomeFailed   BidOutcome = "Failed"
)

// FailureReason explains a rejected bid.
type FailureReason string

const (
	ReasonNone      FailureReason = ""
	ReasonBidTooLow FailureReason = "BidTooLow"
	ReasonLotClosed FailureReason = "LotClosed"
	ReasonError     FailureReason = "Error"
)

// ClassifyFailure maps a server error message to a failure reason.
func ClassifyFailure(message string) FailureReason {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "greater than"), strings.Contains(lower, "bid amount"):
		return ReasonBidTooLow
	case strings.Contains(lower, "closed"):
		return ReasonLotClosed
	default:
		return ReasonError
	}
}

// BidAttempt is one PlaceBid request. Attempts start out Failed and
// unresolved; a matching server reply settles them.
type BidAttempt struct {
	LotID      string        `json:"lot_id"`
	BidderID   string        `json:"bidder_id"`
	Amount     float64       `json:"amount"`
	PlacedAt   time.Time     `json:"placed_at"`
	Outcome    BidOutcome    `json:"outcome"`
	Reason     FailureReason `json:"reason,omitempty"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt time.Time     `json:"resolved_at,omitempty"`
}

// BidSummary is an immutable copy of the tracker's state.
//
// Failed counts every placed bid that was not accepted, so unresolved bids
// are reported as failed; FailureReasons only covers explicit rejections.
type BidSummary struct {
	Placed         int64                   `json:"placed"`
	Accepted       int64                   `json:"accepted"`
	Failed         int64                   `json:"failed"`
	Rejected       int64                   `json:"rejected"`
	Unresolved     int64                   `json:"unresolved"`
	AcceptanceRate float64                 `json:"acceptance_rate"`
	FailureRate    float64                 `json:"failure_rate"`
	FailureReasons map[FailureReason]int64 `json:"failure_reasons,omitempty"`
	Attempts       []BidAttempt            `json:"-"`
}

// BidCounts is the counter subset of BidSummary.
type BidCounts struct {
	Placed   int64
	Accepted int64
	Rejected int64
}

type bidKey struct {
	lot    string
	bidder string
}

// BidTracker is a thread-safe ledger of bid attempts.
type BidTracker struct {
	mu       sync.Mutex
	attempts []BidAttempt
	// unresolved holds attempt indexes per (lot, bidder), oldest first.
	unresolved map[bidKey][]int
	placed     int64
	accepted   int64
	rejected   int64
	reasons    map[FailureReason]int64
	now        func() time.Time
}

func NewBidTracker() *BidTracker {
	return &BidTracker{
		unresolved: make(map[bidKey][]int),
		reasons:    make(map[FailureReason]int64),
		now:        time.Now,
	}
}

func validateBidKey(lotID, bidderID string) error {
	if strings.TrimSpace(lotID) == "" {
		return fmt.Errorf("%w: lot id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(bidderID) == "" {
		return fmt.Errorf("%w: bidder id is required", ErrInvalidArgument)
	}
	return nil
}

// RecordPlaced registers a bid before it is sent.
func (t *BidTracker) RecordPlaced(lotID, bidderID string, amount float64) error {
	if err := validateBidKey(lotID, bidderID); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts = append(t.attempts, BidAttempt{
		LotID:    lotID,
		BidderID: bidderID,
		Amount:   amount,
		PlacedAt: t.now(),
		Outcome:  OutcomeFailed,
	})
	key := bidKey{lot: lotID, bidder: bidderID}
	t.unresolved[key] = append(t.unresolved[key], len(t.attempts)-1)
	t.placed++
	return nil
}

// RecordAccepted settles the most recent unresolved bid for the pair as
// accepted. It reports whether an attempt matched.
func (t *BidTracker) RecordAccepted(lotID, bidderID string) (bool, error) {
	if err := validateBidKey(lotID, bidderID); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.resolveLocked(bidKey{lot: lotID, bidder: bidderID})
	if !ok {
		return false, nil
	}
	t.attempts[idx].Outcome = OutcomeAccepted
	t.accepted++
	return true, nil
}

// RecordFailed settles the most recent unresolved bid for the pair as failed
// with the given reason. It reports whether an attempt matched.
func (t *BidTracker) RecordFailed(lotID, bidderID string, reason FailureReason) (bool, error) {
	if err := validateBidKey(lotID, bidderID); err != nil {
		return false, err
	}
	if reason == ReasonNone {
		reason = ReasonError
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.resolveLocked(bidKey{lot: lotID, bidder: bidderID})
	if !ok {
		return false, nil
	}
	t.attempts[idx].Outcome = OutcomeFailed
	t.attempts[idx].Reason = reason
	t.rejected++
	t.reasons[reason]++
	return true, nil
}

// resolveLocked pops the newest unresolved attempt for key. Pairs normally
// have at most one attempt in flight, so the per-pair list stays short.
func (t *BidTracker) resolveLocked(key bidKey) (int, bool) {
	pending := t.unresolved[key]
	if len(pending) == 0 {
		return 0, false
	}
	idx := pending[len(pending)-1]
	if len(pending) == 1 {
		delete(t.unresolved, key)
	} else {
		t.unresolved[key] = pending[:len(pending)-1]
	}
	t.attempts[idx].Resolved = true
	t.attempts[idx].ResolvedAt = t.now()
	return idx, true
}

// Counts returns the counters without copying the attempt log.
func (t *BidTracker) Counts() BidCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return BidCounts{Placed: t.placed, Accepted: t.accepted, Rejected: t.rejected}
}

// Snapshot returns a deep copy of the ledger with computed rates.
func (t *BidTracker) Snapshot() BidSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := BidSummary{
		Placed:   t.placed,
		Accepted: t.accepted,
		Rejected: t.rejected,
		Failed:   t.placed - t.accepted,
		Attempts: make([]BidAttempt, len(t.attempts)),
	}
	summary.Unresolved = summary.Failed - summary.Rejected
	copy(summary.Attempts, t.attempts)

	if len(t.reasons) > 0 {
		summary.FailureReasons = make(map[FailureReason]int64, len(t.reasons))
		for k, v := range t.reasons {
			summary.FailureReasons[k] = v
		}
	}
	if t.placed > 0 {
		summary.AcceptanceRate = float64(t.accepted) / float64(t.placed)
		summary.FailureRate = float64(summary.Failed) / float64(t.placed)
	}
	return summary
}

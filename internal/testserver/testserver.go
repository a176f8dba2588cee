// Package testserver is a small WebSocket server speaking the echo and
// auction protocols. It stands in for the server under test in integration
// tests and local smoke runs.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/lister-potter/Socket-Benchmarks/internal/protocol"
)

// Mode selects the protocol the server speaks.
type Mode string

const (
	ModeEcho    Mode = "echo"
	ModeAuction Mode = "auction"
)

// Options configure a Server.
type Options struct {
	Mode Mode
	// Broadcast sends each accepted bid's LotUpdate to every connection that
	// joined the lot, not only to the bidder.
	Broadcast bool
	// ClosedLots are lots that reject every bid.
	ClosedLots []string
	// DropEvery makes the echo server swallow every Nth message (0 keeps all).
	DropEvery int
	// BinaryReplies makes the echo server answer with binary frames.
	BinaryReplies bool
	Logger        *zap.Logger
}

// Lot is the state of one auction lot.
type Lot struct {
	ID            string
	CurrentBid    float64
	CurrentBidder string
	Closed        bool
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is an http.Handler upgrading every request to a WebSocket session.
type Server struct {
	opt      Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	lots    map[string]*Lot
	members map[string]map[*peer]struct{}

	active   atomic.Int64
	accepted atomic.Int64
	received atomic.Int64
}

// New returns a server with lots lot-1 through lot-N, where N is
// protocol.LotCount.
func New(opt Options) *Server {
	if opt.Mode == "" {
		opt.Mode = ModeEcho
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	s := &Server{
		opt: opt,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		lots:    make(map[string]*Lot, protocol.LotCount),
		members: make(map[string]map[*peer]struct{}),
	}
	for i := 1; i <= protocol.LotCount; i++ {
		id := fmt.Sprintf("lot-%d", i)
		s.lots[id] = &Lot{ID: id}
	}
	for _, id := range opt.ClosedLots {
		if lot, ok := s.lots[id]; ok {
			lot.Closed = true
		}
	}
	return s
}

// ServeHTTP upgrades the request and serves the session until the client
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opt.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.accepted.Add(1)
	s.active.Add(1)
	p := &peer{conn: conn}
	defer func() {
		s.leave(p)
		s.active.Add(-1)
		conn.Close()
	}()

	var seen int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.received.Add(1)
		seen++
		if s.opt.Mode == ModeAuction {
			if err := s.handleAuction(p, data); err != nil {
				return
			}
			continue
		}
		if s.opt.DropEvery > 0 && seen%s.opt.DropEvery == 0 {
			continue
		}
		if s.opt.BinaryReplies {
			msgType = websocket.BinaryMessage
		}
		p.mu.Lock()
		err = conn.WriteMessage(msgType, data)
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *Server) handleAuction(p *peer, data []byte) error {
	switch typ := gjson.GetBytes(data, "type").String(); typ {
	case protocol.TypeJoinLot:
		var req protocol.JoinLot
		if err := json.Unmarshal(data, &req); err != nil {
			return p.write(errorFrame("Invalid JoinLot message"))
		}
		update, ok := s.join(p, req.LotID)
		if !ok {
			return p.write(errorFrame("Lot not found"))
		}
		return p.write(update)

	case protocol.TypePlaceBid:
		var req protocol.PlaceBid
		if err := json.Unmarshal(data, &req); err != nil {
			return p.write(errorFrame("Invalid PlaceBid message"))
		}
		update, others, reason := s.bid(p, req)
		if reason != "" {
			return p.write(errorFrame(reason))
		}
		for _, other := range others {
			if err := other.write(update); err != nil {
				s.opt.Logger.Debug("broadcast failed", zap.Error(err))
			}
		}
		return p.write(update)

	default:
		return p.write(errorFrame(fmt.Sprintf("Unknown message type: %s", typ)))
	}
}

func (s *Server) join(p *peer, lotID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.lots[lotID]
	if !ok {
		return nil, false
	}
	set := s.members[lotID]
	if set == nil {
		set = make(map[*peer]struct{})
		s.members[lotID] = set
	}
	set[p] = struct{}{}
	return updateFrame(lot), true
}

// bid applies req and returns the update to send, the other lot members to
// broadcast it to, and a rejection reason ("" when accepted).
func (s *Server) bid(p *peer, req protocol.PlaceBid) ([]byte, []*peer, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.lots[req.LotID]
	switch {
	case !ok:
		return nil, nil, "Lot not found"
	case lot.Closed:
		return nil, nil, "Lot is closed"
	case req.Amount <= lot.CurrentBid:
		return nil, nil, fmt.Sprintf("Bid amount must be greater than current bid of %.2f", lot.CurrentBid)
	}
	lot.CurrentBid = req.Amount
	lot.CurrentBidder = req.BidderID

	var others []*peer
	if s.opt.Broadcast {
		for member := range s.members[req.LotID] {
			if member != p {
				others = append(others, member)
			}
		}
	}
	return updateFrame(lot), others, ""
}

func (s *Server) leave(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.members {
		delete(set, p)
	}
}

// Lot returns a copy of the lot's current state.
func (s *Server) Lot(id string) (Lot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.lots[id]
	if !ok {
		return Lot{}, false
	}
	return *lot, true
}

// Accepted is the number of sessions upgraded so far.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// Active is the number of open sessions.
func (s *Server) Active() int64 { return s.active.Load() }

// Received is the number of frames read across all sessions.
func (s *Server) Received() int64 { return s.received.Load() }

// WebSocketURL turns an http(s) URL, such as httptest.Server.URL, into the
// matching ws(s) URL.
func WebSocketURL(httpURL string) string {
	if rest, ok := strings.CutPrefix(httpURL, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(httpURL, "http://")
}

func updateFrame(lot *Lot) []byte {
	update := protocol.LotUpdate{
		Type:       protocol.TypeLotUpdate,
		LotID:      lot.ID,
		CurrentBid: lot.CurrentBid,
		Status:     "Open",
	}
	if lot.CurrentBidder != "" {
		bidder := lot.CurrentBidder
		update.CurrentBidder = &bidder
	}
	if lot.Closed {
		update.Status = "Closed"
	}
	data, _ := json.Marshal(update)
	return data
}

func errorFrame(message string) []byte {
	data, _ := json.Marshal(protocol.ErrorMessage{Type: protocol.TypeError, Message: message})
	return data
}

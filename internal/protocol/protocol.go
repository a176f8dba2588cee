// Package protocol defines the JSON envelopes exchanged with the server under test.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Message type tags used by the auction protocol.
const (
	TypeJoinLot   = "JoinLot"
	TypePlaceBid  = "PlaceBid"
	TypeLotUpdate = "LotUpdate"
	TypeError     = "Error"
)

// LotCount is the number of lots clients are spread across in auction mode.
const LotCount = 10

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrMalformed    = errors.New("malformed payload")
)

// EchoMessage is the self-contained echo mode message. Field names match the
// server's wire format.
type EchoMessage struct {
	MessageID     int64     `json:"MessageId"`
	ClientID      int       `json:"ClientId"`
	SentTimestamp time.Time `json:"SentTimestamp"`
	Payload       []byte    `json:"Payload"`
}

// JoinLot subscribes a connection to a lot's updates.
type JoinLot struct {
	Type  string `json:"type"`
	LotID string `json:"lotId"`
}

// PlaceBid offers an amount for a lot.
type PlaceBid struct {
	Type     string  `json:"type"`
	LotID    string  `json:"lotId"`
	BidderID string  `json:"bidderId"`
	Amount   float64 `json:"amount"`
}

// LotUpdate carries the current state of a lot.
type LotUpdate struct {
	Type          string  `json:"type"`
	LotID         string  `json:"lotId"`
	CurrentBid    float64 `json:"currentBid"`
	CurrentBidder *string `json:"currentBidder"`
	Status        string  `json:"status"`
}

// Bidder returns the current bidder or "" when the lot has none.
func (u LotUpdate) Bidder() string {
	if u.CurrentBidder == nil {
		return ""
	}
	return *u.CurrentBidder
}

// ErrorMessage is sent by the server when a request is rejected.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewJoinLot builds a JoinLot request.
func NewJoinLot(lotID string) JoinLot {
	return JoinLot{Type: TypeJoinLot, LotID: lotID}
}

// NewPlaceBid builds a PlaceBid request.
func NewPlaceBid(lotID, bidderID string, amount float64) PlaceBid {
	return PlaceBid{Type: TypePlaceBid, LotID: lotID, BidderID: bidderID, Amount: amount}
}

// LotForClient assigns a client to one of LotCount lots round-robin.
func LotForClient(clientID int) string {
	return fmt.Sprintf("lot-%d", clientID%LotCount+1)
}

// BidderForClient returns the bidder identity a client bids under.
func BidderForClient(clientID int) string {
	return fmt.Sprintf("bidder-%d", clientID)
}

// BaseBid is the starting amount for a client's bids.
func BaseBid(clientID int) float64 {
	return float64((clientID%LotCount + 1) * 100)
}

// Kind identifies the variant produced by Decode.
type Kind int

const (
	KindEcho Kind = iota
	KindOutbound
	KindLotUpdate
	KindError
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindEcho:
		return "echo"
	case KindOutbound:
		return "outbound"
	case KindLotUpdate:
		return "lot_update"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is a decoded inbound text frame. Exactly one of Echo, Update or
// Error is set, according to Kind. Type holds the raw type tag for
// protocol frames.
type Frame struct {
	Kind   Kind
	Type   string
	Echo   EchoMessage
	Update LotUpdate
	Error  ErrorMessage
}

// Decode classifies a text frame. Frames whose JSON object carries a string
// "type" field are protocol frames; everything else is decoded as an echo
// message.
func Decode(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Frame{}, ErrEmptyPayload
	}
	if !gjson.ValidBytes(data) {
		return Frame{}, ErrMalformed
	}

	if typ := gjson.GetBytes(data, "type"); typ.Type == gjson.String {
		return decodeProtocol(typ.String(), data)
	}

	var echo EchoMessage
	if err := json.Unmarshal(data, &echo); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Frame{Kind: KindEcho, Echo: echo}, nil
}

func decodeProtocol(typ string, data []byte) (Frame, error) {
	frame := Frame{Type: typ}
	switch typ {
	case TypeJoinLot, TypePlaceBid:
		frame.Kind = KindOutbound
	case TypeLotUpdate:
		if err := json.Unmarshal(data, &frame.Update); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		frame.Kind = KindLotUpdate
	case TypeError:
		if err := json.Unmarshal(data, &frame.Error); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		frame.Kind = KindError
	default:
		frame.Kind = KindUnknown
	}
	return frame, nil
}

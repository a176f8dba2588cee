package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeEcho(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(EchoMessage{MessageID: 42, ClientID: 7, SentTimestamp: sent, Payload: []byte("abc")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Kind != KindEcho {
		t.Fatalf("kind = %v, want echo", frame.Kind)
	}
	if frame.Echo.MessageID != 42 || frame.Echo.ClientID != 7 {
		t.Fatalf("unexpected identity: %+v", frame.Echo)
	}
	if string(frame.Echo.Payload) != "abc" {
		t.Fatalf("payload = %q", frame.Echo.Payload)
	}
}

func TestDecodeEchoWireNames(t *testing.T) {
	raw := []byte(`{"MessageId":3,"ClientId":1,"SentTimestamp":"2024-05-01T12:00:00Z","Payload":"aGk="}`)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Echo.MessageID != 3 || string(frame.Echo.Payload) != "hi" {
		t.Fatalf("unexpected echo: %+v", frame.Echo)
	}
}

func TestDecodeProtocolFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"join echoed back", `{"type":"JoinLot","lotId":"lot-1"}`, KindOutbound},
		{"bid echoed back", `{"type":"PlaceBid","lotId":"lot-1","bidderId":"bidder-1","amount":100}`, KindOutbound},
		{"update", `{"type":"LotUpdate","lotId":"lot-2","currentBid":250.5,"currentBidder":"bidder-1","status":"Open"}`, KindLotUpdate},
		{"error", `{"type":"Error","message":"Lot is closed"}`, KindError},
		{"unknown", `{"type":"Heartbeat"}`, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if frame.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", frame.Kind, tt.kind)
			}
		})
	}
}

func TestDecodeLotUpdateFields(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"LotUpdate","lotId":"lot-2","currentBid":250.5,"currentBidder":"bidder-1","status":"Open"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Update.LotID != "lot-2" || frame.Update.CurrentBid != 250.5 || frame.Update.Bidder() != "bidder-1" {
		t.Fatalf("unexpected update: %+v", frame.Update)
	}

	frame, err = Decode([]byte(`{"type":"LotUpdate","lotId":"lot-3","currentBid":0,"currentBidder":null,"status":"Open"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Update.Bidder() != "" {
		t.Fatalf("expected no bidder, got %q", frame.Update.Bidder())
	}
}

func TestDecodeRejectsEmptyAndMalformed(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("Decode(nil) error = %v, want ErrEmptyPayload", err)
	}
	if _, err := Decode([]byte("   ")); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("Decode(blank) error = %v, want ErrEmptyPayload", err)
	}
	if _, err := Decode([]byte("{not json")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode(garbage) error = %v, want ErrMalformed", err)
	}
	if _, err := Decode([]byte(`{"type":"LotUpdate","currentBid":"many"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode(bad update) error = %v, want ErrMalformed", err)
	}
}

func TestNumericTypeFieldFallsBackToEcho(t *testing.T) {
	frame, err := Decode([]byte(`{"type":5,"MessageId":9,"ClientId":2}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Kind != KindEcho || frame.Echo.MessageID != 9 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestLotAssignment(t *testing.T) {
	if got := LotForClient(0); got != "lot-1" {
		t.Errorf("LotForClient(0) = %s", got)
	}
	if got := LotForClient(19); got != "lot-10" {
		t.Errorf("LotForClient(19) = %s", got)
	}
	if got := BidderForClient(12); got != "bidder-12" {
		t.Errorf("BidderForClient(12) = %s", got)
	}
	if got := BaseBid(13); got != 400 {
		t.Errorf("BaseBid(13) = %v", got)
	}
}

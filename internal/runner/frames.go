package runner

import "github.com/lister-potter/Socket-Benchmarks/internal/websocket"

// ConnectionTotals sums the transport counters of every connection of a run.
// Frames the receive loop ignores, such as binary frames, still count here.
type ConnectionTotals struct {
	FramesSent           int64 `json:"frames_sent"`
	FramesReceived       int64 `json:"frames_received"`
	BinaryFramesReceived int64 `json:"binary_frames_received"`
	BytesSent            int64 `json:"bytes_sent"`
	BytesReceived        int64 `json:"bytes_received"`
	TransportErrors      int64 `json:"transport_errors"`
}

type frameCounter interface {
	Metrics() websocket.Metrics
}

func tallyConnections[C frameCounter](conns []C) ConnectionTotals {
	var t ConnectionTotals
	for _, c := range conns {
		m := c.Metrics()
		t.FramesSent += m.MessagesSent
		t.FramesReceived += m.MessagesReceived
		t.BinaryFramesReceived += m.BinaryReceived
		t.BytesSent += m.BytesSent
		t.BytesReceived += m.BytesReceived
		t.TransportErrors += m.Errors
	}
	return t
}

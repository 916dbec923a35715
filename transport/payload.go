package transport

import (
	"time"

	"github.com/huykn/actioncache/types"
)

// SetRequest is one write carried by a SET frame.
type SetRequest struct {
	Key      string         `json:"key"`
	Data     []byte         `json:"data"`
	TTL      time.Duration  `json:"ttl"`
	Priority types.Priority `json:"priority,omitempty"`
	Failed   bool           `json:"failed,omitempty"`
}

// Heartbeat is sent periodically to every known peer.
type Heartbeat struct {
	NodeID    string    `json:"node_id"`
	Endpoint  string    `json:"endpoint"`
	KeyCount  int       `json:"key_count"`
	Load      float64   `json:"load"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeInfoRequest introduces the sender when exchanging rosters.
type NodeInfoRequest struct {
	NodeID   string `json:"node_id"`
	Endpoint string `json:"endpoint"`
}

// NodeSummary describes one member in a roster.
type NodeSummary struct {
	ID       string  `json:"id"`
	Endpoint string  `json:"endpoint"`
	Load     float64 `json:"load"`
	KeyCount int     `json:"key_count"`
}

// NodeInfoResponse is the responder's view of the cluster, itself included.
type NodeInfoResponse struct {
	NodeID string        `json:"node_id"`
	Nodes  []NodeSummary `json:"nodes"`
}

type keyRequest struct {
	Key string `json:"key"`
}

type setBatch struct {
	Entries []SetRequest `json:"entries"`
}

// GET responses are one found byte followed by the value.
func encodeGetResponse(data []byte, found bool) []byte {
	if !found {
		return []byte{0}
	}
	out := make([]byte, 1+len(data))
	out[0] = 1
	copy(out[1:], data)
	return out
}

func decodeGetResponse(p []byte) ([]byte, bool, error) {
	if len(p) == 0 {
		return nil, false, ErrMalformedFrame
	}
	if p[0] == 0 {
		return nil, false, nil
	}
	return p[1:], true, nil
}

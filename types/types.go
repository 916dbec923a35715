package types

// Action names the kind of change carried by an InvalidationEvent.
type Action = string

// Actions relayed between nodes.
const (
	// Invalidate removes a single key from every tier.
	Invalidate Action = "invalidate"
	// Delete removes a key that no longer exists at its source.
	Delete Action = "delete"
	// Clear empties every tier.
	Clear Action = "clear"
	// Replay re-runs an invalidation engine event on the receiving node.
	Replay Action = "replay"
)

// InvalidationEvent represents a cache invalidation that is relayed across nodes.
type InvalidationEvent struct {
	Key       string            `json:"key"`
	Sender    string            `json:"sender"`
	Action    Action            `json:"action"`
	EventType string            `json:"event_type,omitempty"` // engine event name for "replay"
	Metadata  map[string]string `json:"metadata,omitempty"`
}

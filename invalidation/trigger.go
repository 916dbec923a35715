package invalidation

import (
	"fmt"
	"strings"
	"time"
)

// EventType names an application event that can trigger invalidation.
type EventType string

const (
	ObjectUpdated        EventType = "objectUpdated"
	ObjectDeleted        EventType = "objectDeleted"
	SchemaChanged        EventType = "schemaChanged"
	PermissionChanged    EventType = "permissionChanged"
	ConfigurationChanged EventType = "configurationChanged"
	SystemRestart        EventType = "systemRestart"
)

// ThresholdKind names a measured quantity for threshold triggers.
type ThresholdKind string

const (
	MemoryUsage ThresholdKind = "memoryUsage"
	CacheSize   ThresholdKind = "cacheSize"
	ErrorRate   ThresholdKind = "errorRate"
	Staleness   ThresholdKind = "staleness"
)

// Kind is shared by triggers and events: a rule fires for events of the
// same kind whose details satisfy the trigger.
type Kind int

const (
	KindTime Kind = iota
	KindEvent
	KindDependency
	KindThreshold
	KindPattern
	KindManual
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindEvent:
		return "event"
	case KindDependency:
		return "dependency"
	case KindThreshold:
		return "threshold"
	case KindPattern:
		return "pattern"
	case KindManual:
		return "manual"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Trigger decides which events fire a rule.
type Trigger struct {
	Kind      Kind
	Interval  time.Duration
	Event     EventType
	Pattern   string
	Threshold ThresholdKind
	Value     float64
}

// TimeElapsed fires once at least d has passed since the rule last fired.
func TimeElapsed(d time.Duration) Trigger {
	return Trigger{Kind: KindTime, Interval: d}
}

// OnEvent fires for application events of type t.
func OnEvent(t EventType) Trigger {
	return Trigger{Kind: KindEvent, Event: t}
}

// DependencyChanged fires for dependency events whose key contains
// pattern. "*" matches every key.
func DependencyChanged(pattern string) Trigger {
	return Trigger{Kind: KindDependency, Pattern: pattern}
}

// ThresholdReached fires when a reported kind reaches value.
func ThresholdReached(kind ThresholdKind, value float64) Trigger {
	return Trigger{Kind: KindThreshold, Threshold: kind, Value: value}
}

// PatternDetected fires when exactly pattern is reported.
func PatternDetected(pattern string) Trigger {
	return Trigger{Kind: KindPattern, Pattern: pattern}
}

// ManualTrigger fires for manual invalidations.
func ManualTrigger() Trigger {
	return Trigger{Kind: KindManual}
}

// Matches reports whether e fires t.
func (t Trigger) Matches(e Event) bool {
	if t.Kind != e.Kind {
		return false
	}
	switch t.Kind {
	case KindTime:
		return e.Elapsed >= t.Interval
	case KindEvent:
		return e.Name == t.Event
	case KindThreshold:
		return e.Threshold == t.Threshold && e.Value >= t.Value
	case KindDependency:
		return t.Pattern == "*" || strings.Contains(e.Dependency, t.Pattern)
	case KindPattern:
		return e.Pattern == t.Pattern
	case KindManual:
		return true
	}
	return false
}

// Event is something that happened and may invalidate entries.
type Event struct {
	Kind Kind

	Name       EventType     // KindEvent
	Elapsed    time.Duration // KindTime
	Threshold  ThresholdKind // KindThreshold
	Value      float64       // KindThreshold
	Dependency string        // KindDependency
	Pattern    string        // KindPattern

	// Key is the "objectType:objectId" reference the event is about. Its
	// transitive dependents are invalidated after the rules run.
	Key string

	// Scope, when set, is invalidated directly in addition to matching rules.
	Scope *Scope

	// Cascade marks events synthesized for a dependent of Source.
	Cascade bool
	Source  string

	// Remote marks events replayed from another node; they are not relayed again.
	Remote bool

	Time time.Time
}

// NewEvent returns an application event about key.
func NewEvent(name EventType, key string) Event {
	return Event{Kind: KindEvent, Name: name, Key: key}
}

package invalidation

import (
	"time"

	"github.com/google/uuid"

	"github.com/huykn/actioncache/types"
)

// Rule invalidates Scope whenever Trigger matches an event.
type Rule struct {
	ID       uuid.UUID
	Name     string
	Trigger  Trigger
	Scope    Scope
	Priority int
	IsActive bool
}

// NewRule returns an active rule with a fresh id.
func NewRule(name string, trigger Trigger, scope Scope, priority int) Rule {
	return Rule{
		ID:       uuid.New(),
		Name:     name,
		Trigger:  trigger,
		Scope:    scope,
		Priority: priority,
		IsActive: true,
	}
}

// DefaultRules returns the stock rule set.
func DefaultRules() []Rule {
	return []Rule{
		NewRule("Document TTL", TimeElapsed(time.Hour), ObjectTypeScope(types.ObjectDocument), 10),
		NewRule("Object Update Invalidation", OnEvent(ObjectUpdated), PatternScope(".*"), 20),
		NewRule("Memory Pressure", ThresholdReached(MemoryUsage, 0.9), All(), 100),
		NewRule("Schema Change", OnEvent(SchemaChanged), All(), 90),
	}
}

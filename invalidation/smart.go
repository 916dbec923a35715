package invalidation

import (
	"context"
	"strings"
	"time"

	"github.com/huykn/actioncache/types"
)

// ChangeKind classifies a change to a source object.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeUpdate
	ChangeDelete
	ChangeSchema
)

// ChangeDescriptor describes one change to a source object.
type ChangeDescriptor struct {
	ObjectID      string
	ObjectType    types.ObjectType
	Kind          ChangeKind
	ChangedFields []string
	Time          time.Time
}

// minSharedPrefix is the shortest id prefix worth a pattern invalidation.
const minSharedPrefix = 4

// SmartInvalidate turns a batch of changes into the fewest invalidations
// that cover them. Creates need nothing. Updates and deletes remove the
// changed ids; when two or more ids share a prefix of more than three
// characters, or all share one object type, a single prefix or type
// invalidation replaces the per-id ones. Deletes cascade to dependents.
// A schema change clears the cache and requests a rebuild.
func (e *Engine) SmartInvalidate(ctx context.Context, changes []ChangeDescriptor) Report {
	var r Report

	var changed, deleted []ChangeDescriptor
	schema := false
	for _, c := range changes {
		switch c.Kind {
		case ChangeUpdate:
			changed = append(changed, c)
		case ChangeDelete:
			changed = append(changed, c)
			deleted = append(deleted, c)
		case ChangeSchema:
			schema = true
		}
	}

	if scope, ok := sharedScope(changed); ok {
		e.step(ctx, scope, &r)
	} else {
		for _, c := range changed {
			e.step(ctx, idScope(c), &r)
		}
	}

	for _, c := range deleted {
		ref := string(c.ObjectType) + ":" + c.ObjectID
		for _, dep := range e.Dependents(ref) {
			e.step(ctx, refScope(dep), &r)
			r.Cascaded = append(r.Cascaded, dep)
		}
	}

	if schema {
		e.record(Event{Kind: KindEvent, Name: SchemaChanged, Time: e.opts.now()})
		if err := e.target.Clear(ctx); err != nil {
			e.logger.Warn("clear for schema change failed", "error", err)
			r.Errors = append(r.Errors, err)
		} else {
			r.Cleared = true
		}
		r.Rebuild = true
		if e.opts.onRebuild != nil {
			e.opts.onRebuild(ctx)
		}
	}
	return r
}

func (e *Engine) step(ctx context.Context, scope Scope, r *Report) {
	e.record(Event{Kind: KindManual, Scope: &scope, Time: e.opts.now()})
	e.execute(ctx, "smart", scope, r)
}

// idScope matches the changed object. An empty ObjectType matches the id
// under every type.
func idScope(c ChangeDescriptor) Scope {
	value := c.ObjectID
	if c.ObjectType != "" {
		value = string(c.ObjectType) + ":" + c.ObjectID
	}
	return Scope{Kind: ScopeCustom, Value: value, Match: func(k types.CacheKey) bool {
		return k.ObjectID == c.ObjectID && (c.ObjectType == "" || k.ObjectType == c.ObjectType)
	}}
}

// sharedScope finds one scope covering every change, preferring a common
// id prefix over a common object type.
func sharedScope(changes []ChangeDescriptor) (Scope, bool) {
	if len(changes) < 2 {
		return Scope{}, false
	}

	prefix := changes[0].ObjectID
	for _, c := range changes[1:] {
		for !strings.HasPrefix(c.ObjectID, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if len(prefix) >= minSharedPrefix {
		return Scope{
			Kind:  ScopeCustom,
			Value: prefix,
			Match: func(k types.CacheKey) bool { return strings.HasPrefix(k.ObjectID, prefix) },
		}, true
	}

	t := changes[0].ObjectType
	for _, c := range changes[1:] {
		if c.ObjectType != t {
			return Scope{}, false
		}
	}
	return ObjectTypeScope(t), true
}

package invalidation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/huykn/actioncache/types"
)

// Relay converts ev into a wire event for other nodes. Events with custom
// scopes carry functions and cannot be relayed.
func (ev Event) Relay(sender string) (types.InvalidationEvent, bool) {
	if ev.Scope != nil && ev.Scope.Kind == ScopeCustom {
		return types.InvalidationEvent{}, false
	}

	md := map[string]string{"kind": strconv.Itoa(int(ev.Kind))}
	put := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	put("name", string(ev.Name))
	put("threshold", string(ev.Threshold))
	put("dependency", ev.Dependency)
	put("pattern", ev.Pattern)
	if ev.Elapsed > 0 {
		md["elapsed"] = ev.Elapsed.String()
	}
	if ev.Value != 0 {
		md["value"] = strconv.FormatFloat(ev.Value, 'g', -1, 64)
	}
	if s := ev.Scope; s != nil {
		md["scope_kind"] = strconv.Itoa(int(s.Kind))
		put("scope_object_type", string(s.ObjectType))
		put("scope_action_type", string(s.ActionType))
		put("scope_value", s.Value)
	}

	return types.InvalidationEvent{
		Key:       ev.Key,
		Sender:    sender,
		Action:    types.Replay,
		EventType: ev.Kind.String(),
		Metadata:  md,
	}, true
}

// FromRelay rebuilds an event published by Relay. The result is marked Remote.
func FromRelay(in types.InvalidationEvent) (Event, error) {
	md := in.Metadata
	kind, err := strconv.Atoi(md["kind"])
	if err != nil {
		return Event{}, fmt.Errorf("relayed event: bad kind %q", md["kind"])
	}

	ev := Event{
		Kind:       Kind(kind),
		Name:       EventType(md["name"]),
		Threshold:  ThresholdKind(md["threshold"]),
		Dependency: md["dependency"],
		Pattern:    md["pattern"],
		Key:        in.Key,
		Remote:     true,
	}
	if v, ok := md["elapsed"]; ok {
		if ev.Elapsed, err = time.ParseDuration(v); err != nil {
			return Event{}, fmt.Errorf("relayed event: bad elapsed: %w", err)
		}
	}
	if v, ok := md["value"]; ok {
		if ev.Value, err = strconv.ParseFloat(v, 64); err != nil {
			return Event{}, fmt.Errorf("relayed event: bad value: %w", err)
		}
	}
	if v, ok := md["scope_kind"]; ok {
		sk, err := strconv.Atoi(v)
		if err != nil || ScopeKind(sk) == ScopeCustom {
			return Event{}, fmt.Errorf("relayed event: bad scope kind %q", v)
		}
		ev.Scope = &Scope{
			Kind:       ScopeKind(sk),
			ObjectType: types.ObjectType(md["scope_object_type"]),
			ActionType: types.ActionType(md["scope_action_type"]),
			Value:      md["scope_value"],
		}
	}
	return ev, nil
}

package invalidation

import (
	"fmt"
	"regexp"

	"github.com/huykn/actioncache/types"
)

// ScopeKind selects which entries a Scope covers.
type ScopeKind int

const (
	ScopeAll ScopeKind = iota
	ScopeObjectType
	ScopeActionType
	ScopeUser
	ScopeSession
	ScopePattern
	ScopeDependency
	ScopeCustom
)

// Scope describes a set of cache entries.
type Scope struct {
	Kind       ScopeKind
	ObjectType types.ObjectType
	ActionType types.ActionType

	// Value is the user id, session id, regex or dependency key.
	Value string

	Match func(types.CacheKey) bool
}

// All covers every entry.
func All() Scope { return Scope{Kind: ScopeAll} }

// ObjectTypeScope covers entries about objects of type t.
func ObjectTypeScope(t types.ObjectType) Scope { return Scope{Kind: ScopeObjectType, ObjectType: t} }

// ActionTypeScope covers entries produced by actions of type a.
func ActionTypeScope(a types.ActionType) Scope { return Scope{Kind: ScopeActionType, ActionType: a} }

// UserScope covers entries computed for one user.
func UserScope(userID string) Scope { return Scope{Kind: ScopeUser, Value: userID} }

// SessionScope covers entries computed in one session.
func SessionScope(sessionID string) Scope { return Scope{Kind: ScopeSession, Value: sessionID} }

// PatternScope covers entries whose "objectType:objectId" matches the regex.
func PatternScope(regex string) Scope { return Scope{Kind: ScopePattern, Value: regex} }

// DependencyScope covers the transitive dependents of key.
func DependencyScope(key string) Scope { return Scope{Kind: ScopeDependency, Value: key} }

// CustomScope covers entries for which fn returns true.
func CustomScope(fn func(types.CacheKey) bool) Scope { return Scope{Kind: ScopeCustom, Match: fn} }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeAll:
		return "all"
	case ScopeObjectType:
		return "objectType(" + string(s.ObjectType) + ")"
	case ScopeActionType:
		return "actionType(" + string(s.ActionType) + ")"
	case ScopeUser:
		return "user(" + s.Value + ")"
	case ScopeSession:
		return "session(" + s.Value + ")"
	case ScopePattern:
		return "pattern(" + s.Value + ")"
	case ScopeDependency:
		return "dependency(" + s.Value + ")"
	case ScopeCustom:
		return "custom"
	default:
		return fmt.Sprintf("ScopeKind(%d)", int(s.Kind))
	}
}

// refScope covers entries about exactly one "objectType:objectId" reference.
func refScope(ref string) Scope {
	return PatternScope("^" + regexp.QuoteMeta(ref) + "$")
}

// predicate compiles s. dependents resolves ScopeDependency.
func (s Scope) predicate(dependents func(string) map[string]struct{}) (func(types.CacheKey) bool, error) {
	switch s.Kind {
	case ScopeAll:
		return func(types.CacheKey) bool { return true }, nil
	case ScopeObjectType:
		return func(k types.CacheKey) bool { return k.ObjectType == s.ObjectType }, nil
	case ScopeActionType:
		return func(k types.CacheKey) bool { return k.ActionType == s.ActionType }, nil
	case ScopeUser:
		return func(k types.CacheKey) bool { return k.UserID() == s.Value }, nil
	case ScopeSession:
		return func(k types.CacheKey) bool { return k.SessionID() == s.Value }, nil
	case ScopePattern:
		re, err := regexp.Compile(s.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", s.Value, err)
		}
		return func(k types.CacheKey) bool { return re.MatchString(k.ObjectRef()) }, nil
	case ScopeDependency:
		deps := dependents(s.Value)
		return func(k types.CacheKey) bool {
			_, ok := deps[k.ObjectRef()]
			return ok
		}, nil
	case ScopeCustom:
		if s.Match == nil {
			return nil, fmt.Errorf("custom scope without predicate")
		}
		return s.Match, nil
	}
	return nil, fmt.Errorf("unknown scope kind %d", int(s.Kind))
}

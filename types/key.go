package types

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

const keySeparator = "|"

// CacheKey is the canonical fingerprint of an action, its context and parameters.
type CacheKey struct {
	ActionType  ActionType `json:"action_type"`
	ObjectType  ObjectType `json:"object_type"`
	ObjectID    string     `json:"object_id"`
	ContextHash string     `json:"context_hash"`
	Parameters  string     `json:"parameters"`
}

// NewCacheKey derives the key of an action. Parameter order never changes the result.
func NewCacheKey(action ObjectAction) CacheKey {
	return CacheKey{
		ActionType:  action.Type,
		ObjectType:  action.ObjectType,
		ObjectID:    action.ObjectID,
		ContextHash: ContextHash(action.Context),
		Parameters:  CanonicalParameters(action.Parameters),
	}
}

// ContextHash encodes the user, session, environment and sorted metadata of
// ctx. Every field is query-escaped so separators inside values survive.
func ContextHash(ctx ActionContext) string {
	keys := make([]string, 0, len(ctx.Metadata))
	for k := range ctx.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+":"+url.QueryEscape(ctx.Metadata[k]))
	}

	raw := strings.Join([]string{
		url.QueryEscape(ctx.UserID),
		url.QueryEscape(ctx.SessionID),
		url.QueryEscape(string(ctx.Environment)),
		strings.Join(pairs, ","),
	}, keySeparator)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// CanonicalParameters renders params as JSON with every map level sorted by key.
func CanonicalParameters(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	// encoding/json writes map keys in sorted order at every depth.
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// String returns the reversible wire form of the key.
func (k CacheKey) String() string {
	return strings.Join([]string{
		url.QueryEscape(string(k.ActionType)),
		url.QueryEscape(string(k.ObjectType)),
		url.QueryEscape(k.ObjectID),
		url.QueryEscape(k.ContextHash),
		url.QueryEscape(k.Parameters),
	}, keySeparator)
}

// ParseCacheKey inverts String. Any other string is treated as an opaque
// key and returned with only ObjectID set.
func ParseCacheKey(s string) CacheKey {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 5 {
		return CacheKey{ObjectID: s}
	}
	fields := make([]string, len(parts))
	for i, p := range parts {
		v, err := url.QueryUnescape(p)
		if err != nil {
			return CacheKey{ObjectID: s}
		}
		fields[i] = v
	}
	return CacheKey{
		ActionType:  ActionType(fields[0]),
		ObjectType:  ObjectType(fields[1]),
		ObjectID:    fields[2],
		ContextHash: fields[3],
		Parameters:  fields[4],
	}
}

// ObjectRef returns "objectType:objectId", the string scope patterns match against.
func (k CacheKey) ObjectRef() string {
	return string(k.ObjectType) + ":" + k.ObjectID
}

// UserID returns the user encoded in the context hash, if any.
func (k CacheKey) UserID() string {
	return k.contextField(0)
}

// SessionID returns the session encoded in the context hash, if any.
func (k CacheKey) SessionID() string {
	return k.contextField(1)
}

func (k CacheKey) contextField(i int) string {
	if k.ContextHash == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(k.ContextHash)
	if err != nil {
		return ""
	}
	parts := strings.SplitN(string(raw), keySeparator, 4)
	if i >= len(parts) {
		return ""
	}
	v, err := url.QueryUnescape(parts[i])
	if err != nil {
		return ""
	}
	return v
}

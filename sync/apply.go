package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/huykn/actioncache/cache"
	"github.com/huykn/actioncache/invalidation"
	"github.com/huykn/actioncache/types"
)

// Cache is the local state relayed key events act on.
type Cache interface {
	Delete(ctx context.Context, key string) bool
	Clear(ctx context.Context) error
}

var _ Cache = (*cache.TieredCache)(nil)

// Applier applies events received from other nodes to the local node.
type Applier struct {
	cache  Cache
	engine *invalidation.Engine
	logger cache.Logger
}

// NewApplier returns an Applier. engine may be nil when rule replay is not used.
func NewApplier(c Cache, engine *invalidation.Engine, logger cache.Logger) *Applier {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &Applier{cache: c, engine: engine, logger: logger}
}

// Apply performs event locally. Replayed engine events are marked remote
// so they are not published again.
func (a *Applier) Apply(ctx context.Context, event InvalidationEvent) error {
	switch event.Action {
	case types.Invalidate, types.Delete:
		removed := a.cache.Delete(ctx, event.Key)
		a.logger.Debug("applied relayed invalidation", "key", event.Key, "from", event.Sender, "removed", removed)
		return nil
	case types.Clear:
		return a.cache.Clear(ctx)
	case types.Replay:
		if a.engine == nil {
			return errors.New("no invalidation engine to replay on")
		}
		ev, err := invalidation.FromRelay(event)
		if err != nil {
			return err
		}
		rep := a.engine.ProcessEvent(ctx, ev)
		a.logger.Debug("replayed engine event", "kind", event.EventType, "from", event.Sender, "removed", rep.Removed)
		return errors.Join(rep.Errors...)
	default:
		return fmt.Errorf("unknown relayed action %q", event.Action)
	}
}

// Callback adapts Apply for OnInvalidate, logging failures.
func (a *Applier) Callback() func(ctx context.Context, event InvalidationEvent) {
	return func(ctx context.Context, event InvalidationEvent) {
		if err := a.Apply(ctx, event); err != nil {
			a.logger.Warn("failed to apply relayed invalidation", "action", event.Action, "from", event.Sender, "error", err)
		}
	}
}

package cachenodefx

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/huykn/actioncache"
	"github.com/huykn/actioncache/types"
)

func testConfig() actioncache.Config {
	cfg := actioncache.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Invalidation.MonitorInterval = 0
	return cfg
}

func TestModuleProvidesStartedNode(t *testing.T) {
	var node *actioncache.Node
	app := fxtest.New(t,
		fx.Supply(testConfig(), zap.NewNop()),
		Module,
		fx.Populate(&node),
	)
	app.RequireStart()
	defer app.RequireStop()

	ctx := context.Background()
	action := types.NewObjectAction(types.ActionRead, types.ObjectDocument, "doc-1", types.ActionContext{UserID: "u1"})
	result := types.ActionResult{Status: types.StatusCompleted, Output: []byte("ok")}
	if err := node.Set(ctx, action, result, time.Minute); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if _, found, err := node.Get(ctx, action); err != nil || !found {
		t.Fatalf("Expected hit, got found=%v err=%v", found, err)
	}
}

func TestModuleExportsPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	var node *actioncache.Node
	app := fxtest.New(t,
		fx.Supply(testConfig(), zap.NewNop()),
		fx.Provide(func() prometheus.Registerer { return reg }),
		Module,
		fx.Populate(&node),
	)
	app.RequireStart()
	defer app.RequireStop()

	ctx := context.Background()
	action := types.NewObjectAction(types.ActionRead, types.ObjectDocument, "doc-1", types.ActionContext{UserID: "u1"})
	node.Get(ctx, action)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("Expected metrics to be registered")
	}
}

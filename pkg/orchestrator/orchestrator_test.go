package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creact-labs/creact-sub004/pkg/backend"
	"github.com/creact-labs/creact-sub004/pkg/creact"
	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/provider"
	"github.com/creact-labs/creact-sub004/pkg/registry"
	"github.com/creact-labs/creact-sub004/pkg/state"
)

var (
	serviceA = registry.Construct{Type: "ServiceA"}
	serviceB = registry.Construct{Type: "ServiceB"}
	serviceC = registry.Construct{Type: "ServiceC"}
	parent   = registry.Construct{Type: "Parent"}
	childX   = registry.Construct{Type: "ChildX"}
	childY   = registry.Construct{Type: "ChildY"}
	grand    = registry.Construct{Type: "GrandChild"}
	dbCon    = registry.Construct{Type: "Database"}
	cacheCon = registry.Construct{Type: "CacheService"}
)

func newFileBackend(t *testing.T) *backend.FileBackend {
	t.Helper()
	b, err := backend.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

// linearChain builds A -> B -> C where each child consumes the previous
// service's value output.
func linearChain() *creact.Element {
	cBody := func(ctx *creact.Ctx) *creact.Element {
		creact.UseInstance(ctx, serviceC, ctx.Props())
		return nil
	}
	bBody := func(ctx *creact.Ctx) *creact.Element {
		b := creact.UseInstance(ctx, serviceB, ctx.Props())
		return creact.Component("C", cBody, props.Map{
			"name":   "c",
			"bValue": b.Output("value")(),
		})
	}
	aBody := func(ctx *creact.Ctx) *creact.Element {
		a := creact.UseInstance(ctx, serviceA, props.Map{"name": "a"})
		return creact.Component("B", bBody, props.Map{
			"name":   "b",
			"aValue": a.Output("value")(),
		})
	}
	return creact.Component("A", aBody, nil)
}

func TestLinearChain(t *testing.T) {
	prov := provider.NewLocalProvider().
		Resolve("ServiceA", func(*registry.InstanceNode) (map[string]any, error) {
			return map[string]any{"value": "a"}, nil
		}).
		Resolve("ServiceB", func(*registry.InstanceNode) (map[string]any, error) {
			return map[string]any{"value": "b"}, nil
		}).
		Resolve("ServiceC", func(*registry.InstanceNode) (map[string]any, error) {
			return map[string]any{"value": "c"}, nil
		})
	back := newFileBackend(t)

	o := New("chain", prov, back, WithUser("test"))
	require.NoError(t, o.Deploy(context.Background(), linearChain()))

	// Each service materialized exactly once, dependencies first.
	assert.Equal(t, []string{
		"service-a",
		"service-a.service-b",
		"service-a.service-b.service-c",
	}, prov.Materialized())

	b, ok := o.Registry().Get("service-a.service-b")
	require.True(t, ok)
	assert.Equal(t, "a", b.Props.Get("aValue"))

	c, ok := o.Registry().Get("service-a.service-b.service-c")
	require.True(t, ok)
	assert.Equal(t, "b", c.Props.Get("bValue"))

	st, err := back.GetState(context.Background(), "chain")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDeployed, st.Status)
	assert.Len(t, st.Nodes, 3)
	for _, n := range st.Nodes {
		assert.NotEmpty(t, n.Outputs, "every node persists its outputs")
	}
}

// diamond builds P with child X, X's child Y, and grandchild G consuming
// both X's and Y's ids.
func diamond() *creact.Element {
	gBody := func(ctx *creact.Ctx) *creact.Element {
		creact.UseInstance(ctx, grand, ctx.Props())
		return nil
	}
	yBody := func(ctx *creact.Ctx) *creact.Element {
		y := creact.UseInstance(ctx, childY, props.Map{"name": "y"})
		return creact.Component("G", gBody, props.Map{
			"name":     "g",
			"child1Id": ctx.Props().Get("xId"),
			"child2Id": y.Output("id")(),
		})
	}
	xBody := func(ctx *creact.Ctx) *creact.Element {
		x := creact.UseInstance(ctx, childX, props.Map{"name": "x"})
		return creact.Component("Y", yBody, props.Map{
			"name": "y-wrap",
			"xId":  x.Output("id")(),
		})
	}
	pBody := func(ctx *creact.Ctx) *creact.Element {
		creact.UseInstance(ctx, parent, props.Map{"name": "p"})
		return creact.Component("X", xBody, nil)
	}
	return creact.Component("P", pBody, nil)
}

func TestDiamond(t *testing.T) {
	ids := map[string]string{"Parent": "p", "ChildX": "x", "ChildY": "y", "GrandChild": "g"}
	prov := provider.NewLocalProvider().ResolveAll(func(n *registry.InstanceNode) (map[string]any, error) {
		return map[string]any{"id": ids[n.ConstructType]}, nil
	})
	back := newFileBackend(t)

	o := New("diamond", prov, back)
	require.NoError(t, o.Deploy(context.Background(), diamond()))

	materialized := prov.Materialized()
	assert.Len(t, materialized, 4, "four materializations total")
	assert.Equal(t, "parent", materialized[0])
	assert.Equal(t, "parent.child-x.child-y.grand-child", materialized[3])

	g, ok := o.Registry().Get("parent.child-x.child-y.grand-child")
	require.True(t, ok)
	assert.Equal(t, "x", g.Props.Get("child1Id"))
	assert.Equal(t, "y", g.Props.Get("child2Id"))
}

// deferred builds Database plus a UI component whose cache depends on the
// database url, which only arrives through a later provider event.
func deferred() *creact.Element {
	uiBody := func(ctx *creact.Ctx) *creact.Element {
		creact.UseInstance(ctx, cacheCon, props.Map{
			"name":  "cache",
			"dbUrl": ctx.Props().Get("dbUrl"),
		})
		return nil
	}
	rootBody := func(ctx *creact.Ctx) *creact.Element {
		db := creact.UseInstance(ctx, dbCon, props.Map{"name": "main-db"})
		return creact.Component("UI", uiBody, props.Map{
			"name":  "ui",
			"dbUrl": db.Output("url")(),
		})
	}
	return creact.Component("Root", rootBody, nil)
}

func TestDeferredBranch(t *testing.T) {
	prov := provider.NewLocalProvider().
		Resolve("Database", func(*registry.InstanceNode) (map[string]any, error) {
			// The database provisions asynchronously: no outputs yet.
			return nil, nil
		}).
		Resolve("CacheService", func(*registry.InstanceNode) (map[string]any, error) {
			return map[string]any{"status": "ready"}, nil
		})
	back := newFileBackend(t)

	o := New("deferred", prov, back)
	require.NoError(t, o.Deploy(context.Background(), deferred()))

	// First pass: only the database; the cache is placeheld.
	assert.Equal(t, []string{"database"}, prov.Materialized())

	// The async output arrives; the event re-renders the tree and a second
	// apply pass materializes the cache.
	prov.EmitOutputs("main-db", map[string]any{"url": "postgres://prod/main"})

	assert.Equal(t, []string{"database", "database.cache-service"}, prov.Materialized(),
		"two materializations total")

	cacheNode, ok := o.Registry().Get("database.cache-service")
	require.True(t, ok)
	assert.Equal(t, "postgres://prod/main", cacheNode.Props.Get("dbUrl"))

	st, err := back.GetState(context.Background(), "deferred")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDeployed, st.Status)
	dbNode, ok := st.Node("database")
	require.True(t, ok)
	assert.Equal(t, "postgres://prod/main", dbNode.Outputs["url"])
}

func TestIdempotentRerun(t *testing.T) {
	resolver := func(n *registry.InstanceNode) (map[string]any, error) {
		return map[string]any{"value": n.ConstructType}, nil
	}
	back := newFileBackend(t)

	first := provider.NewLocalProvider().ResolveAll(resolver)
	o1 := New("idem", first, back)
	require.NoError(t, o1.Deploy(context.Background(), linearChain()))
	require.Len(t, first.Materialized(), 3)

	st1, err := back.GetState(context.Background(), "idem")
	require.NoError(t, err)

	// Same tree, fresh runtime, unchanged persisted state.
	second := provider.NewLocalProvider().ResolveAll(resolver)
	o2 := New("idem", second, back)
	require.NoError(t, o2.Deploy(context.Background(), linearChain()))

	assert.Empty(t, second.Materialized(), "no provider calls on an unchanged tree")

	st2, err := back.GetState(context.Background(), "idem")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDeployed, st2.Status)
	assert.False(t, st2.LastDeployedAt.Before(st1.LastDeployedAt), "timestamp is refreshed")
	assert.Len(t, st2.Nodes, 3)
}

func TestCrashRecovery(t *testing.T) {
	back := newFileBackend(t)
	ctx := context.Background()

	// A completed with outputs; B was mid-apply when the process died.
	crashed := &state.DeploymentState{
		StackName: "recovery",
		Status:    state.StatusApplying,
		Nodes: []state.SerializedNode{
			{
				ID: "service-a", Path: []string{"service-a"}, ConstructType: "ServiceA",
				Props:   props.Map{"name": "a"},
				Outputs: map[string]any{"value": "a"},
				State:   state.StatusDeployed,
			},
			{
				ID: "service-a.service-b", Path: []string{"service-a", "service-b"}, ConstructType: "ServiceB",
				Props: props.Map{"name": "b", "aValue": "a"},
				State: state.StatusApplying,
			},
		},
		ApplyingNodeID: "service-a.service-b",
		LastDeployedAt: time.Now().UTC(),
	}
	require.NoError(t, back.SaveState(ctx, "recovery", crashed))

	values := map[string]string{"ServiceA": "a", "ServiceB": "b", "ServiceC": "c"}
	prov := provider.NewLocalProvider().ResolveAll(func(n *registry.InstanceNode) (map[string]any, error) {
		return map[string]any{"value": values[n.ConstructType]}, nil
	})

	o := New("recovery", prov, back)
	require.NoError(t, o.Deploy(ctx, linearChain()), "recovery must not surface a user error")

	// A is hydrated and untouched; B is reclassified as a create. C follows
	// once B's value lands.
	materialized := prov.Materialized()
	assert.NotContains(t, materialized, "service-a")
	assert.Contains(t, materialized, "service-a.service-b")

	st, err := back.GetState(ctx, "recovery")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDeployed, st.Status)
	assert.Empty(t, st.ApplyingNodeID)
}

func TestDuplicateSiblingsSurfaceUsageError(t *testing.T) {
	mk := func() *creact.Element {
		return creact.Component("CacheComp", func(ctx *creact.Ctx) *creact.Element {
			creact.UseInstance(ctx, cacheCon, props.Map{"size": 1})
			return nil
		}, nil)
	}
	app := creact.Component("App", func(ctx *creact.Ctx) *creact.Element {
		return creact.Fragment(mk(), mk())
	}, nil)

	o := New("dups", provider.NewLocalProvider(), newFileBackend(t))
	err := o.Deploy(context.Background(), app)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrDuplicateSiblings)
	assert.Contains(t, err.Error(), "CacheService")
	assert.Contains(t, err.Error(), "key")
}

func TestProviderFailurePersistsFailedState(t *testing.T) {
	prov := provider.NewLocalProvider().ResolveAll(func(n *registry.InstanceNode) (map[string]any, error) {
		return nil, assert.AnError
	})
	back := newFileBackend(t)

	o := New("boom", prov, back)
	err := o.Deploy(context.Background(), linearChain())
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "service-a", pe.NodeID)

	st, getErr := back.GetState(context.Background(), "boom")
	require.NoError(t, getErr)
	assert.Equal(t, state.StatusFailed, st.Status)
	assert.Equal(t, "service-a", st.ApplyingNodeID, "crash marker survives for the next run")
}

func TestDeleteRemovedResources(t *testing.T) {
	resolver := func(n *registry.InstanceNode) (map[string]any, error) {
		return map[string]any{"value": "v"}, nil
	}
	back := newFileBackend(t)

	full := creact.Component("App", func(ctx *creact.Ctx) *creact.Element {
		a := creact.UseInstance(ctx, serviceA, props.Map{"name": "a"})
		return creact.Component("B", func(ctx *creact.Ctx) *creact.Element {
			creact.UseInstance(ctx, serviceB, ctx.Props())
			return nil
		}, props.Map{"name": "b", "aValue": a.Output("value")()})
	}, nil)

	p1 := provider.NewLocalProvider().ResolveAll(resolver)
	o1 := New("shrink", p1, back)
	require.NoError(t, o1.Deploy(context.Background(), full))
	require.Len(t, p1.Materialized(), 2)

	// Second run drops B from the tree.
	trimmed := creact.Component("App", func(ctx *creact.Ctx) *creact.Element {
		creact.UseInstance(ctx, serviceA, props.Map{"name": "a"})
		return nil
	}, nil)

	p2 := provider.NewLocalProvider().ResolveAll(resolver)
	o2 := New("shrink", p2, back)
	require.NoError(t, o2.Deploy(context.Background(), trimmed))

	assert.Equal(t, []string{"service-a.service-b"}, p2.Destroyed())
	assert.Empty(t, p2.Materialized(), "surviving node is unchanged")

	st, err := back.GetState(context.Background(), "shrink")
	require.NoError(t, err)
	require.Len(t, st.Nodes, 1)
	assert.Equal(t, "service-a", st.Nodes[0].ID)
}

func TestDestroy(t *testing.T) {
	back := newFileBackend(t)
	prov := provider.NewLocalProvider().ResolveAll(func(*registry.InstanceNode) (map[string]any, error) {
		return map[string]any{"value": "v"}, nil
	})

	o := New("teardown", prov, back)
	require.NoError(t, o.Deploy(context.Background(), linearChain()))

	require.NoError(t, o.Destroy(context.Background()))

	// Children destroyed before parents.
	assert.Equal(t, []string{
		"service-a.service-b.service-c",
		"service-a.service-b",
		"service-a",
	}, prov.Destroyed())

	st, err := back.GetState(context.Background(), "teardown")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDeployed, st.Status)
	assert.Empty(t, st.Nodes)
}

func TestStackLock(t *testing.T) {
	back := newFileBackend(t)
	ctx := context.Background()

	ok, err := back.AcquireLock(ctx, "locked", "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	o := New("locked", provider.NewLocalProvider(), back)
	err = o.Deploy(ctx, linearChain())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStackLocked)
}

func TestUnknownResourceEventDropped(t *testing.T) {
	prov := provider.NewLocalProvider().ResolveAll(func(*registry.InstanceNode) (map[string]any, error) {
		return map[string]any{"value": "v"}, nil
	})
	o := New("events", prov, newFileBackend(t))
	require.NoError(t, o.Deploy(context.Background(), linearChain()))

	before := prov.Materialized()
	assert.NotPanics(t, func() {
		prov.EmitOutputs("never-heard-of-it", map[string]any{"x": 1})
	})
	assert.Equal(t, before, prov.Materialized(), "unknown events change nothing")
}

func TestAuditTrail(t *testing.T) {
	back := newFileBackend(t)
	prov := provider.NewLocalProvider().ResolveAll(func(*registry.InstanceNode) (map[string]any, error) {
		return map[string]any{"value": "v"}, nil
	})

	o := New("audited", prov, back, WithUser("ops"))
	require.NoError(t, o.Deploy(context.Background(), linearChain()))

	entries, err := back.GetAuditLog(context.Background(), "audited", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
		assert.Equal(t, "ops", e.User)
	}
	assert.Equal(t, state.ActionDeployStart, actions[0])
	assert.Contains(t, actions, state.ActionResourceApplied)
	assert.Equal(t, state.ActionDeployComplete, actions[len(actions)-1])
}

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/reactive"
)

func newTestRegistry() *Registry {
	return NewRegistry(reactive.NewRuntime())
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry()

	n, err := r.Register("app.database", []string{"app", "database"}, "Database", props.Map{"name": "db"}, "root/app/database")
	require.NoError(t, err)
	assert.Equal(t, "app.database", n.ID)
	assert.Equal(t, "Database", n.ConstructType)

	got, ok := r.Get("app.database")
	require.True(t, ok)
	assert.Same(t, n, got)
}

func TestDuplicateSiblingDetection(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Register("app.cache", []string{"app", "cache"}, "Cache", nil, "root/app/cache")
	require.NoError(t, err)

	_, err = r.Register("app.cache", []string{"app", "cache"}, "Cache", nil, "root/app/cache-2")
	require.ErrorIs(t, err, ErrDuplicateSiblings)
	assert.Contains(t, err.Error(), "Cache")
	assert.Contains(t, err.Error(), "key")
}

func TestSameFiberReclaims(t *testing.T) {
	r := newTestRegistry()

	first, err := r.Register("app.db", []string{"app", "db"}, "Database", props.Map{"size": 1}, "root/app/db")
	require.NoError(t, err)

	second, err := r.Register("app.db", []string{"app", "db"}, "Database", props.Map{"size": 2}, "root/app/db")
	require.NoError(t, err)
	assert.Same(t, first, second, "re-claim must keep the node and its signals")
	assert.Equal(t, 2, second.Props.Get("size"))
}

func TestSetOutputsNoopOnSameValues(t *testing.T) {
	r := newTestRegistry()
	n, err := r.Register("app.db", []string{"app", "db"}, "Database", nil, "root/app/db")
	require.NoError(t, err)

	var runs int
	url := n.Output("url")
	reactive.CreateEffect(r.Runtime(), func() {
		runs++
		url()
	})
	require.Equal(t, 1, runs)

	n.SetOutputs(map[string]any{"url": "postgres://db"})
	assert.Equal(t, 2, runs)

	n.SetOutputs(map[string]any{"url": "postgres://db"})
	assert.Equal(t, 2, runs, "identical outputs must be a no-op")
}

func TestSetOutputsBatchesWrites(t *testing.T) {
	r := newTestRegistry()
	n, err := r.Register("app.db", []string{"app", "db"}, "Database", nil, "root/app/db")
	require.NoError(t, err)

	urlRead := n.Output("url")
	portRead := n.Output("port")

	var runs int
	reactive.CreateEffect(r.Runtime(), func() {
		runs++
		urlRead()
		portRead()
	})
	require.Equal(t, 1, runs)

	n.SetOutputs(map[string]any{"url": "postgres://db", "port": 5432})
	assert.Equal(t, 2, runs, "multi-key output delivery flushes once")
}

func TestSetOutputsClearsOwnership(t *testing.T) {
	r := newTestRegistry()
	n, err := r.Register("app.db", []string{"app", "db"}, "Database", nil, "root/app/db")
	require.NoError(t, err)

	n.SetOutputs(map[string]any{"url": "u"})

	// After an output write, a different fiber path may claim the id; the
	// re-render that follows the write rebuilds ownership from scratch.
	_, err = r.Register("app.db", []string{"app", "db"}, "Database", nil, "root/other")
	assert.NoError(t, err)
}

func TestOutputAccessorAutoCallsFunctions(t *testing.T) {
	r := newTestRegistry()
	n, err := r.Register("app.db", []string{"app", "db"}, "Database", nil, "root/app/db")
	require.NoError(t, err)

	n.SetOutputs(map[string]any{"url": func() any { return "lazy" }})
	assert.Equal(t, "lazy", n.Output("url")())
}

func TestHydration(t *testing.T) {
	r := newTestRegistry()
	r.HydrateOutputs("app.db", map[string]any{"url": "postgres://persisted"})
	r.HydrateStore("app.db", map[string]any{"revision": 4})

	n, err := r.Register("app.db", []string{"app", "db"}, "Database", nil, "root/app/db")
	require.NoError(t, err)

	assert.Equal(t, "postgres://persisted", n.Output("url")(), "first read sees last-known outputs")
	assert.Equal(t, 4, n.Store["revision"])
}

func TestPlaceholderAccessors(t *testing.T) {
	p := Placeholder()
	assert.True(t, p.Placeholder())
	assert.Nil(t, p.Output("anything")())
	assert.Nil(t, p.Node())
}

func TestFindByName(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Register("app.db", []string{"app", "db"}, "Database", props.Map{"name": "primary"}, "f1")
	require.NoError(t, err)

	n, ok := r.FindByName("primary")
	require.True(t, ok)
	assert.Equal(t, "app.db", n.ID)

	n, ok = r.FindByName("app.db")
	require.True(t, ok, "id works as a fallback match key")
	assert.Equal(t, "app.db", n.ID)

	_, ok = r.FindByName("nope")
	assert.False(t, ok)
}

func TestOutputsSnapshotSkipsNil(t *testing.T) {
	r := newTestRegistry()
	n, err := r.Register("app.db", []string{"app", "db"}, "Database", nil, "f1")
	require.NoError(t, err)

	_ = n.Output("pending") // lazily created, still nil
	n.SetOutputs(map[string]any{"url": "u"})

	out := n.Outputs()
	assert.Equal(t, map[string]any{"url": "u"}, out)
}

func TestPathSegment(t *testing.T) {
	assert.Equal(t, "cache-service", PathSegment("CacheService", ""))
	assert.Equal(t, "cache-service-a", PathSegment("CacheService", "a"))
	assert.Equal(t, "database", PathSegment("Database", ""))
}

func TestNodeID(t *testing.T) {
	assert.Equal(t, "app.api.cache", NodeID([]string{"app", "api", "cache"}))
}

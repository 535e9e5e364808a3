package main

import (
	"fmt"

	"github.com/creact-labs/creact-sub004/pkg/creact"
	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/provider"
	"github.com/creact-labs/creact-sub004/pkg/registry"
)

// The demo stack: a database, an api service wired to its url, a cache
// wired to the api endpoint, and a keyed pair of workers fanning out from
// the database. It exercises dependency ordering, deferred branches, and
// keyed siblings against the local provider.
var (
	databaseConstruct = registry.Construct{Type: "Database"}
	apiConstruct      = registry.Construct{Type: "ApiService"}
	cacheConstruct    = registry.Construct{Type: "CacheService"}
	workerConstruct   = registry.Construct{Type: "Worker"}
)

// demoStack builds the element tree, parameterized by values from --values.
func demoStack(values props.Map) *creact.Element {
	// A nil prop would defer the instance, so absent values get defaults.
	dbEngine := values.Get("dbEngine")
	if dbEngine == nil {
		dbEngine = "postgres"
	}
	cacheSizeMB := values.Get("cacheSizeMB")
	if cacheSizeMB == nil {
		cacheSizeMB = 512
	}

	workerBody := func(ctx *creact.Ctx) *creact.Element {
		creact.UseInstance(ctx, workerConstruct, ctx.Props())
		return nil
	}

	cacheBody := func(ctx *creact.Ctx) *creact.Element {
		creact.UseInstance(ctx, cacheConstruct, ctx.Props())
		return nil
	}

	apiBody := func(ctx *creact.Ctx) *creact.Element {
		api := creact.UseInstance(ctx, apiConstruct, ctx.Props())
		return creact.Component("Cache", cacheBody, props.Map{
			"name":     "demo-cache",
			"endpoint": api.Output("endpoint")(),
			"sizeMB":   cacheSizeMB,
		})
	}

	rootBody := func(ctx *creact.Ctx) *creact.Element {
		db := creact.UseInstance(ctx, databaseConstruct, props.Map{
			"name":   "demo-db",
			"engine": dbEngine,
		})
		dbURL := db.Output("url")()

		workers := make([]*creact.Element, 0, 2)
		for _, key := range []string{"ingest", "reports"} {
			workers = append(workers, creact.Component("Worker", workerBody, props.Map{
				"key":   key,
				"name":  "worker-" + key,
				"dbUrl": dbURL,
			}))
		}

		return creact.Fragment(
			creact.Component("Api", apiBody, props.Map{
				"name":  "demo-api",
				"dbUrl": dbURL,
			}),
			creact.Fragment(workers...),
		)
	}

	return creact.Component("DemoStack", rootBody, nil)
}

// demoProvider materializes the demo constructs in-process with
// deterministic fake outputs.
func demoProvider() *provider.LocalProvider {
	return provider.NewLocalProvider().
		Resolve("Database", func(n *registry.InstanceNode) (map[string]any, error) {
			name, _ := n.Props.Get("name").(string)
			return map[string]any{
				"url": fmt.Sprintf("postgres://demo/%s", name),
			}, nil
		}).
		Resolve("ApiService", func(n *registry.InstanceNode) (map[string]any, error) {
			name, _ := n.Props.Get("name").(string)
			return map[string]any{
				"endpoint": fmt.Sprintf("https://%s.internal", name),
			}, nil
		}).
		ResolveAll(func(n *registry.InstanceNode) (map[string]any, error) {
			return map[string]any{"status": "ready"}, nil
		})
}

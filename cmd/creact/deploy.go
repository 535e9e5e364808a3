package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/creact-labs/creact-sub004/pkg/orchestrator"
	"github.com/creact-labs/creact-sub004/pkg/props"
	"github.com/creact-labs/creact-sub004/pkg/provider"
)

func newDeployCommand() *cobra.Command {
	var (
		valuesPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Render the stack and apply changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			back, backCloser, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backCloser.Close()

			prov, err := openProvider(ctx, cfg)
			if err != nil {
				return err
			}
			if src, ok := prov.(provider.EventSource); ok {
				defer src.Stop()
			}

			// The active orchestrator stays bound to provider events between
			// deploys so asynchronous outputs keep rebinding; a re-deploy
			// detaches the previous one first.
			var active *orchestrator.Orchestrator
			defer func() {
				if active != nil {
					active.Detach()
				}
			}()

			deploy := func() error {
				values, err := loadValues(valuesPath)
				if err != nil {
					return err
				}
				if active != nil {
					active.Detach()
				}
				o := orchestrator.New(cfg.Stack.Name, prov, back,
					orchestrator.WithLogger(log),
					orchestrator.WithUser(cfg.Stack.User))

				start := time.Now()
				if err := o.Deploy(ctx, demoStack(values)); err != nil {
					o.Detach()
					return err
				}
				active = o

				nodes := o.Registry().Nodes()
				fmt.Println(titleStyle.Render("Stack " + cfg.Stack.Name))
				for _, n := range nodes {
					fmt.Printf("  %s %s %s\n",
						successStyle.Render("✓"), n.ID,
						mutedStyle.Render(n.ConstructType))
				}
				fmt.Println(mutedStyle.Render(fmt.Sprintf(
					"%d resources deployed in %s", len(nodes), time.Since(start).Round(time.Millisecond))))
				return nil
			}

			if err := deploy(); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchAndRedeploy(ctx, valuesPath, deploy)
		},
	}

	cmd.Flags().StringVar(&valuesPath, "values", "", "YAML values file feeding stack props")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-deploy when config or values change")
	return cmd
}

// loadValues reads the optional YAML values file into a prop map.
func loadValues(path string) (props.Map, error) {
	if path == "" {
		return props.Map{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read values %s: %w", path, err)
	}
	values := props.Map{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse values %s: %w", path, err)
	}
	return values, nil
}

// watchAndRedeploy re-runs deploy when watched files change, debouncing
// editor write bursts.
func watchAndRedeploy(ctx context.Context, valuesPath string, deploy func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	addFile := func(path string) {
		if path == "" {
			return
		}
		dir := filepath.Dir(path)
		if !watched[dir] {
			if err := watcher.Add(dir); err == nil {
				watched[dir] = true
			}
		}
	}
	addFile(valuesPath)
	addFile(cfgPath)
	if len(watched) == 0 {
		addFile("creact.yaml")
	}

	fmt.Println(mutedStyle.Render("watching for changes; ctrl-c to stop"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var timer *time.Timer
	trigger := make(chan struct{}, 1)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors fire several events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(300*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case <-trigger:
			log.Info("change detected; re-deploying")
			if err := deploy(); err != nil {
				fmt.Fprintln(os.Stderr, errorStyle.Render("deploy failed: ")+err.Error())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)
		case <-sigCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

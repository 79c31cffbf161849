// Phaseflow demo entry point.
//
// Usage:
//
//	phaseflow run                        # run the demo workflow
//	phaseflow run --config config.yaml   # with a config file
//	phaseflow version                    # show version
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/phaseflow/approval"
	"github.com/BaSui01/phaseflow/callback"
	"github.com/BaSui01/phaseflow/config"
	"github.com/BaSui01/phaseflow/executor"
	"github.com/BaSui01/phaseflow/graph"
	"github.com/BaSui01/phaseflow/phase"
	"github.com/BaSui01/phaseflow/resource"
	"github.com/BaSui01/phaseflow/workflow"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "version":
		fmt.Printf("phaseflow %s\n", version)
	case "run":
		if err := runCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "phaseflow: %v\n", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: phaseflow {run|version} [flags]")
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	contextPath := fs.String("context", "", "path for the persisted run document (enables resume)")
	metricsAddr := fs.String("metrics-addr", "", "address to serve /metrics on (empty disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	metrics := callback.NewMetrics(reg)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	store, err := cfg.NewCheckpointStore()
	if err != nil {
		return err
	}

	dispatcher := callback.NewDispatcher(cfg.Callback, logger, metrics, consoleSet())
	res := resource.NewManager(cfg.Resource, nil, logger)

	registry := phase.NewRegistry()
	if err := registry.Register("plan", func(phase.Config) (phase.Phase, error) {
		return &planPhase{}, nil
	}); err != nil {
		return err
	}
	if err := registry.Register("build", func(phase.Config) (phase.Phase, error) {
		return &buildPhase{res: res, execCfg: cfg.Executor, logger: logger}, nil
	}); err != nil {
		return err
	}

	runner, err := workflow.NewRunner(workflow.RunnerOptions{
		WorkflowID:  "demo",
		Phases:      []phase.Config{{Type: "plan"}, {Type: "build"}},
		Registry:    registry,
		Dispatcher:  dispatcher,
		Checkpoints: store,
		Gate:        approval.NewGate(nil, cfg.Approval, logger),
		Logger:      logger,
		ContextPath: *contextPath,
	})
	if err != nil {
		return err
	}

	report, err := runner.Run(context.Background())
	if err != nil {
		return err
	}
	for _, r := range report.Results {
		logger.Info("phase result",
			zap.String("phase_id", r.PhaseID),
			zap.String("status", string(r.Status)),
			zap.Duration("elapsed", r.Elapsed))
	}
	return nil
}

// consoleSet prints the event stream, the simplest possible observer.
func consoleSet() callback.Set {
	print := func(_ context.Context, ev callback.Event) error {
		fmt.Printf("[%s] %s %s\n", ev.Timestamp.Format(time.TimeOnly), ev.Hook, ev.PhaseID)
		return nil
	}
	return callback.Set{
		Name: "console",
		Handlers: map[callback.Hook]callback.Handler{
			callback.HookPhaseStart:    print,
			callback.HookPhaseComplete: print,
			callback.HookPhaseFailed:   print,
			callback.HookCheckpoint:    print,
			callback.HookApproval:      print,
		},
	}
}

// planPhase writes a tiny plan into shared state.
type planPhase struct{}

func (*planPhase) Type() string                        { return "plan" }
func (*planPhase) DisplayName() string                 { return "Plan" }
func (*planPhase) RequiredAgents() []string            { return nil }
func (*planPhase) ValidateInput(*phase.Context) []string { return nil }
func (*planPhase) CanSkip(*phase.Context) bool         { return false }

func (*planPhase) Execute(ctx context.Context, em *phase.ExecutionManager) error {
	em.StartStep(ctx, 1, "draft plan")
	pc := em.Context()
	pc.OutputData[phase.SharedOutputKey] = map[string]any{
		"tasks": []string{"fetch", "parse", "merge"},
	}
	em.CompleteStep(ctx, 1, "planned 3 tasks")
	return em.SaveCheckpoint(ctx, "plan", pc.OutputData)
}

// buildPhase fans the planned tasks out as a small dependency graph.
type buildPhase struct {
	res     *resource.Manager
	execCfg executor.Config
	logger  *zap.Logger
}

func (*buildPhase) Type() string                        { return "build" }
func (*buildPhase) DisplayName() string                 { return "Build" }
func (*buildPhase) RequiredAgents() []string            { return nil }
func (*buildPhase) ValidateInput(*phase.Context) []string { return nil }
func (*buildPhase) CanSkip(*phase.Context) bool         { return false }

func (p *buildPhase) Execute(ctx context.Context, em *phase.ExecutionManager) error {
	if err := em.ErrIfCancelled(ctx); err != nil {
		return err
	}

	g := graph.NewDependencyGraph(p.logger)
	g.AddNode("fetch", nil)
	g.AddNode("parse", nil)
	g.AddNode("merge", nil)
	if err := g.AddEdge("fetch", "merge", graph.EdgeData, "merge consumes fetched data"); err != nil {
		return err
	}
	if err := g.AddEdge("parse", "merge", graph.EdgeData, "merge consumes parsed data"); err != nil {
		return err
	}
	levels, err := g.TopologicalLevels()
	if err != nil {
		return err
	}

	exec := executor.NewParallelExecutor(p.res, p.execCfg, p.logger)
	results, err := exec.ExecuteLevels(ctx, levels, func(_ context.Context, nodeID string) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "done: " + nodeID, nil
	})
	if err != nil {
		return err
	}

	var failed []string
	outputs := make(map[string]any, len(results))
	for id, r := range results {
		outputs[id] = r.Output
		if r.Failed() {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("nodes failed: %s", strings.Join(failed, ", "))
	}
	em.Context().OutputData["nodes"] = outputs
	return nil
}

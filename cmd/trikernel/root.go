package main

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/if001/trikernel/internal/async"
	"github.com/if001/trikernel/internal/config"
	"github.com/if001/trikernel/internal/execution"
	"github.com/if001/trikernel/internal/index"
	"github.com/if001/trikernel/internal/llm"
	"github.com/if001/trikernel/internal/logging"
	"github.com/if001/trikernel/internal/metrics"
	"github.com/if001/trikernel/internal/runner"
	"github.com/if001/trikernel/internal/state/filestore"
	"github.com/if001/trikernel/internal/tools"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trikernel",
		Short:         "Task-oriented execution fabric for conversational agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./trikernel.yaml)")
	root.AddCommand(newChatCmd(), newWorkCmd(), newTasksCmd())
	return root
}

// app bundles everything a command needs after construction.
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	session *execution.Session
	metrics *metrics.Set
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.NewStdLogger(os.Stderr, "trikernel", logging.ParseLevel(cfg.LogLevel))

	storeOpts := filestore.Options{Logger: logger}
	if cfg.OllamaEmbedModel != "" {
		embedder := llm.NewOllama(cfg.OllamaBaseURL, cfg.OllamaEmbedModel)
		vectorIndex, err := index.NewChromem(filepath.Join(cfg.DataDir, "index"), embedder.Embed)
		if err != nil {
			return nil, err
		}
		storeOpts.Index = vectorIndex
		logger.Info("artifact index: chromem, embed model %s", cfg.OllamaEmbedModel)
	}
	kernel, err := filestore.Open(cfg.DataDir, storeOpts)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltin(registry, kernel)

	model := llm.NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel)

	var strategy runner.Runner
	switch cfg.Runner {
	case "tool_loop":
		strategy = runner.NewToolLoop(cfg.MaxSteps)
	case "pdca":
		strategy = runner.NewPDCA(cfg.MaxSteps)
	default:
		strategy = runner.NewSingleTurn()
	}

	var set *metrics.Set
	if cfg.MetricsAddr != "" {
		registerer := prometheus.NewRegistry()
		set = metrics.New(registerer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
		addr := cfg.MetricsAddr
		async.Go(logger, "metrics-server", func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server: %v", err)
			}
		})
	}

	session := execution.NewSession(kernel, strategy, model, model, registry, execution.Config{
		WorkerCount:       cfg.WorkerCount,
		PollInterval:      cfg.PollInterval,
		WorkerTimeout:     cfg.WorkerTimeout,
		WorkQueueTimeout:  cfg.WorkQueueTimeout,
		MainRunnerTimeout: cfg.MainRunnerTimeout,
		ClaimTTL:          cfg.ClaimTTL,
		ConversationID:    cfg.ConversationID,
	}, logger, set)

	return &app{cfg: cfg, logger: logger, session: session, metrics: set}, nil
}

// Command playbookengine runs the Playbook Execution Engine server: the
// HTTP surface (spec.md §6) backed by the Task Store Scheduler driving
// playbook executions to completion. Wiring shape grounded on the
// teacher's cmd/tarsy/main.go (flag-parsed config dir, godotenv load,
// config.Initialize, database.NewClient, then construct-and-serve).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/playbookengine/pkg/api"
	"github.com/haasonsaas/playbookengine/pkg/chat"
	"github.com/haasonsaas/playbookengine/pkg/checkpoint"
	"github.com/haasonsaas/playbookengine/pkg/cleanup"
	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/coordinator"
	"github.com/haasonsaas/playbookengine/pkg/database"
	"github.com/haasonsaas/playbookengine/pkg/eventbus"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
	"github.com/haasonsaas/playbookengine/pkg/llm"
	"github.com/haasonsaas/playbookengine/pkg/masking"
	"github.com/haasonsaas/playbookengine/pkg/metrics"
	"github.com/haasonsaas/playbookengine/pkg/notify"
	"github.com/haasonsaas/playbookengine/pkg/queue"
	"github.com/haasonsaas/playbookengine/pkg/runner"
	"github.com/haasonsaas/playbookengine/pkg/store"
	"github.com/haasonsaas/playbookengine/pkg/stream"
	"github.com/haasonsaas/playbookengine/pkg/toolexec"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no .env at %s (%v), using existing environment", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))
	runnerID := getEnv("RUNNER_ID", "playbookengine-"+uuid.NewString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("initializing configuration: %v", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("loading database config: %v", err)
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("closing database client: %v", err)
		}
	}()
	client := db.Client

	events := eventlog.NewEventLog(client)
	tasks := store.NewTaskStore(client, events)
	masker := masking.NewService()
	_ = coordinator.NewCoordinator(client, cfg.PlaybookRegistry, masker, cfg.Defaults)

	turns := checkpoint.New(client)
	snapshots := checkpoint.NewCheckpointManager(client)

	fallback := toolexec.NewHTTPBackend(os.Getenv("TOOL_BACKEND_URL"), 30*time.Second)
	tools := toolexec.NewExecutor(client, events, fallback)

	resolveLLM := newProviderResolver()

	defaultProvider := ""
	if cfg.Defaults != nil {
		defaultProvider = cfg.Defaults.LLMProvider
	}

	run := runner.New(client, events, cfg.PlaybookRegistry, cfg.LLMProviderRegistry, resolveLLM, tools, nil, turns, snapshots, defaultProvider)

	bus := eventbus.New(5 * time.Second)
	chatSvc := chat.New(client, events, cfg.PlaybookRegistry, cfg.LLMProviderRegistry, resolveLLM, run, bus, defaultProvider)

	notifier := notify.NewService(cfg.Notify)
	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	cleanupSvc := cleanup.NewService(client, cfg.Retention)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	sched := queue.NewScheduler(tasks, run, notifier, reg, cfg.Queue, runnerID)

	tickInterval := time.Second
	if cfg.Stream != nil && cfg.Stream.TickInterval > 0 {
		tickInterval = cfg.Stream.TickInterval
	}
	projector := stream.NewProjector(client, events, tickInterval)

	server := api.New(client, tasks, events, projector, chatSvc, cfg.Stream, cfg.JWT)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("playbookengine: http server listening", "addr", ":"+httpPort)
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			slog.Error("playbookengine: http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("playbookengine: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("playbookengine: http shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("playbookengine: stopped")
}

// newProviderResolver builds a runner.ProviderResolver that lazily
// constructs and caches one llm.Provider per distinct LLMProviderConfig
// (keyed by type+model+base_url), so repeated calls for the same pack
// reuse a single client/connection instead of redialing every turn.
func newProviderResolver() runner.ProviderResolver {
	var mu sync.Mutex
	cache := make(map[string]llm.Provider)

	return func(cfg *config.LLMProviderConfig) (llm.Provider, error) {
		key := fmt.Sprintf("%s|%s|%s", cfg.Type, cfg.Model, cfg.BaseURL)

		mu.Lock()
		defer mu.Unlock()
		if p, ok := cache[key]; ok {
			return p, nil
		}

		var (
			p   llm.Provider
			err error
		)
		switch cfg.Type {
		case config.LLMProviderTypeAnthropic:
			p, err = llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey:       os.Getenv(cfg.APIKeyEnv),
				BaseURL:      cfg.BaseURL,
				DefaultModel: cfg.Model,
			})
		case config.LLMProviderTypeOpenAI:
			p, err = llm.NewOpenAIProvider(llm.OpenAIConfig{
				APIKey:       os.Getenv(cfg.APIKeyEnv),
				BaseURL:      cfg.BaseURL,
				DefaultModel: cfg.Model,
			})
		case config.LLMProviderTypeGRPC:
			p, err = llm.NewGRPCProvider(cfg.BaseURL, cfg.Model)
		default:
			return nil, fmt.Errorf("llm: unknown provider type %q", cfg.Type)
		}
		if err != nil {
			return nil, err
		}
		cache[key] = p
		return p, nil
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/api"
	"github.com/nidhogg/majordomo/internal/auth"
	"github.com/nidhogg/majordomo/internal/command"
	"github.com/nidhogg/majordomo/internal/config"
	"github.com/nidhogg/majordomo/internal/directory"
	"github.com/nidhogg/majordomo/internal/draft"
	"github.com/nidhogg/majordomo/internal/embedding"
	"github.com/nidhogg/majordomo/internal/events"
	"github.com/nidhogg/majordomo/internal/gateway"
	"github.com/nidhogg/majordomo/internal/orchestrator"
	"github.com/nidhogg/majordomo/internal/provider"
	msgrouter "github.com/nidhogg/majordomo/internal/router"
	pgstore "github.com/nidhogg/majordomo/internal/store"
	"github.com/nidhogg/majordomo/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	// Load configuration first; the log level comes from it.
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/majordomo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting Majordomo...", zap.String("config", cfgPath))

	// Background context for long-running components.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// LLM provider router with role bindings.
	llm := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Model: pc.Model, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			llm.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			llm.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	for role, b := range cfg.Roles {
		llm.Bind(role, b.Provider, b.Model)
	}

	// PostgreSQL: sessions, drafts, tokens, run audit trail.
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			migrationsDir := cfg.Orchestrator.MigrationsDir
			if migrationsDir == "" {
				migrationsDir = "migrations"
			}
			if mErr := ps.Migrate(runCtx, migrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Redis stream bus for workflow progress events.
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without workflow events", zap.Error(busErr))
		} else {
			bus = b
		}
	}

	// Neo4j graph caches contact resolutions across sessions.
	var graph *directory.Graph
	var contactCache directory.Cache
	if cfg.Database.Neo4j.URI != "" {
		g, gErr := directory.NewGraph(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr != nil {
			logger.Warn("Neo4j unavailable, contact lookups will not be cached", zap.Error(gErr))
		} else if pingErr := g.Ping(runCtx); pingErr != nil {
			logger.Warn("Neo4j unreachable, contact lookups will not be cached", zap.Error(pingErr))
			g.Close(runCtx)
		} else {
			graph = g
			contactCache = g
		}
	}

	// Agent registry, with a Qdrant-backed capability index when available.
	registry := agent.NewRegistry(logger)
	if cfg.Database.Qdrant.Host != "" {
		embed := embedding.New(embedding.Config{
			Provider:  cfg.Embedding.Provider,
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
		})

		vs, vsErr := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if vsErr != nil {
			logger.Warn("Qdrant unavailable, planner falls back to keyword matching", zap.Error(vsErr))
		} else {
			idx, idxErr := agent.NewCapabilityIndex(runCtx, embed, vs, "agent-capabilities")
			if idxErr != nil {
				logger.Warn("capability index init failed", zap.Error(idxErr))
			} else {
				registry.SetIndex(idx)
			}
		}
	}

	// Sub-agents. An agent without an upstream endpoint is not registered.
	if cfg.Agents.MailAPI != "" {
		registry.Register(agent.NewEmailAgent(cfg.Agents.MailAPI, logger))
	}
	if cfg.Agents.CalendarAPI != "" {
		registry.Register(agent.NewCalendarAgent(cfg.Agents.CalendarAPI, logger))
	}
	if cfg.Agents.ContactsAPI != "" {
		registry.Register(agent.NewContactsAgent(cfg.Agents.ContactsAPI, contactCache, logger))
	}
	if cfg.Agents.SlackToken != "" {
		registry.Register(agent.NewSlackReaderAgent(cfg.Agents.SlackToken, logger))
	}
	if cfg.Agents.SearchAPI != "" {
		registry.Register(agent.NewSearchAgent(cfg.Agents.SearchAPI, cfg.Agents.SearchAPIKey, logger))
	}
	registry.Register(agent.NewContentAgent(llm, logger))

	// Draft manager over Postgres when available, memory otherwise.
	var draftStore draft.Store = draft.NewMemoryStore()
	if pgStore != nil {
		draftStore = pgStore
	}
	drafts := draft.NewManager(draftStore, cfg.Orchestrator.DraftTTL(), logger)
	drafts.StartSweeper(runCtx, time.Minute)

	// OAuth tokens come from Postgres. Without persistence every service
	// call reports "not connected".
	var tokens auth.TokenProvider = auth.StaticTokens{}
	if pgStore != nil {
		tokens = pgStore
	}

	// Orchestration modules.
	var history orchestrator.ConversationSource
	if pgStore != nil {
		history = pgStore
	}
	gatherer := orchestrator.NewGatherer(history, logger)
	gatherer.SetHistoryLimit(cfg.Orchestrator.HistoryLimit)

	params := orchestrator.MasterParams{
		Planner:     orchestrator.NewPlanner(llm, registry, gatherer, logger),
		Executor:    orchestrator.NewExecutor(registry, tokens, cfg.Orchestrator.StepTimeout(), logger),
		Reevaluator: orchestrator.NewReevaluator(llm, logger),
		Composer:    orchestrator.NewComposer(llm, logger),
		Drafts:      drafts,
		MaxSteps:    cfg.Orchestrator.MaxSteps,
		Logger:      logger,
	}
	if bus != nil {
		params.Events = bus
	}
	if pgStore != nil {
		params.Runs = pgStore
	}
	master := orchestrator.NewMaster(params)

	// Gateway and message router. Wire the handler before registering
	// adapters; Register captures it.
	gw := gateway.NewGateway(logger)

	cmdReg := command.NewRegistry()
	command.RegisterBuiltins(cmdReg, agentLister{registry}, draftAccess{drafts}, statusProvider{gw})

	var sessions msgrouter.SessionStore
	if pgStore != nil {
		sessions = pgStore
	}
	msgRouter := msgrouter.New(master, gw, sessions, cmdReg, logger)
	gw.SetHandler(msgRouter.Handle)

	restAdapter := gateway.NewRESTAdapter(logger)
	gw.Register(restAdapter)

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}

	broadcaster := gateway.NewBroadcaster(gw, logger)

	if err := gw.ConnectAll(runCtx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// HTTP API.
	var runs api.RunsLister
	if pgStore != nil {
		runs = pgStore
	}
	handler := api.NewHandler(master, registry, drafts, runs, broadcaster, restAdapter, logger)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Majordomo listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Majordomo...")
	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	gw.Close()
	if graph != nil {
		graph.Close(shutdownCtx)
	}
	if bus != nil {
		bus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

// newLogger builds a zap logger at the configured level. Unknown or
// empty levels get development defaults.
func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewDevelopmentConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil && level != "" {
		zapCfg.Level = lvl
	}
	logger, err := zapCfg.Build()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

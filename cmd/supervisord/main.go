// Command supervisord is the long-running process: it owns the per-chat
// run manager, the knowledge-store client, the three agent providers, and
// the HTTP surface (chat-transport webhook intake, approval callback,
// health/status). Process shape — config → OTel → logger → snowflake id
// node → Redis → knowledge-store client → services → serve →
// SIGINT/SIGTERM → bounded graceful shutdown → telemetry.Shutdown last —
// is the teacher's cmd/server/main.go verbatim in structure.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"agentsup.dev/supervisor/common/id"
	"agentsup.dev/supervisor/common/llm"
	"agentsup.dev/supervisor/common/logger"
	"agentsup.dev/supervisor/common/otel"
	"agentsup.dev/supervisor/core/config"
	"agentsup.dev/supervisor/internal/agent"
	"agentsup.dev/supervisor/internal/bus"
	"agentsup.dev/supervisor/internal/goc"
	"agentsup.dev/supervisor/internal/job"
	"agentsup.dev/supervisor/internal/knowledge"
	"agentsup.dev/supervisor/internal/model"
	"agentsup.dev/supervisor/internal/planner"
	"agentsup.dev/supervisor/internal/provider"
	"agentsup.dev/supervisor/internal/runmanager"
	"agentsup.dev/supervisor/internal/session"
	"agentsup.dev/supervisor/internal/tool"
	"agentsup.dev/supervisor/internal/transport"
)

func main() {
	fmt.Println(banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeSupervisord)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "supervisord starting", "env", cfg.Env)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var redisBus *bus.Bus
	if cfg.Bus.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Bus.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		redisBus = bus.New(redisClient)
		slog.InfoContext(ctx, "redis interrupt bus connected")
	} else {
		slog.InfoContext(ctx, "redis interrupt bus disabled (single-instance mode)")
	}

	knowledgeClient, err := knowledge.New(knowledge.Config{
		APIBase:    cfg.Knowledge.APIBase,
		ServiceKey: cfg.Knowledge.ServiceKey,
		UIBase:     cfg.Knowledge.UIBase,
		UITokenTTL: cfg.Knowledge.UITokenTTL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to construct knowledge store client", "error", err)
		os.Exit(1)
	}

	sessionStore, err := session.New(cfg.StateDir)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open session store", "error", err)
		os.Exit(1)
	}

	gocMgr := goc.NewManager(knowledgeClient, goc.Config{
		AutoActivateProgress: cfg.GOCAutoActivateProgress,
		TrackingChunkMaxLen:  cfg.GOCTrackingChunkMaxLen,
		JobThreadPrefix:      cfg.GOCJobThreadPrefix,
	})
	jobStore, err := job.NewStore(cfg.RunsDir, func(jobID, jobDir, docName, chunk string) {
		gocMgr.AppendHook(ctx, jobID, jobDir, docName, chunk)
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to open job store", "error", err)
		os.Exit(1)
	}

	agentLoader := agent.NewLoader(knowledgeClient, gocMgr)
	toolLoader := tool.NewLoader(knowledgeClient, gocMgr)

	providers := map[model.ProviderKind]provider.AgentProvider{}
	for kind, llmCfg := range map[model.ProviderKind]config.LLMConfig{
		model.ProviderPlanner:    cfg.PlannerLLM,
		model.ProviderCoder:      cfg.CoderLLM,
		model.ProviderResearcher: cfg.Researcher,
	} {
		if !llmCfg.Enabled() {
			slog.WarnContext(ctx, "provider disabled: no API key configured", "provider", kind)
			continue
		}
		p, err := provider.NewOpenAIProvider(kind, llm.Config{APIKey: llmCfg.APIKey, BaseURL: llmCfg.BaseURL, Model: llmCfg.Model})
		if err != nil {
			slog.ErrorContext(ctx, "failed to construct provider", "provider", kind, "error", err)
			os.Exit(1)
		}
		providers[kind] = p
	}

	var plannerInstance *planner.Planner
	if plannerLLM, err := llm.New(llm.Config{APIKey: cfg.PlannerLLM.APIKey, BaseURL: cfg.PlannerLLM.BaseURL, Model: cfg.PlannerLLM.Model}); err != nil {
		slog.WarnContext(ctx, "planner structured-output client unavailable, falling back to deterministic router only", "error", err)
		plannerInstance = planner.New(nil)
	} else {
		plannerInstance = planner.New(plannerLLM)
	}

	pipeline := newPipeline(pipelineDeps{
		cfg:           cfg,
		sessionStore:  sessionStore,
		jobStore:      jobStore,
		knowledge:     knowledgeClient,
		goc:           gocMgr,
		agentLoader:   agentLoader,
		toolLoader:    toolLoader,
		providers:     providers,
		plannerClient: plannerInstance,
		transport:     transport.NewMemTransport(),
	})

	var publisher runmanager.InterruptPublisher
	if redisBus != nil {
		publisher = redisBus
	}
	rm := runmanager.New(sessionStore, pipeline.runChat, pipeline.ack, pipeline.cancelCurrent, publisher)

	if redisBus != nil {
		go func() {
			if err := redisBus.SubscribeAll(ctx, pipeline.onCrossProcessInterrupt); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "interrupt bus subscription ended", "error", err)
			}
		}()
	}

	router := setupRouter(cfg, rm, pipeline)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, rm *runmanager.Manager, p *pipeline) *gin.Engine {
	router := gin.New()

	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/status", p.handleStatus)
	router.POST("/webhook/chat", p.handleChatWebhook(rm))
	router.POST("/approvals/:jobId/:token", p.handleApprovalCallback)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

const banner = `
 ___                              _
/ __|_  _ _ __  ___ _ ___ _(_)___ ___ _ _ __| |
\__ \ || | '_ \/ -_) '_\ V / (_-</ _ \ '_/ _' |
|___/\_,_| .__/\___|_|  \_/|_/__/\___/_| \__,_|
         |_|
`

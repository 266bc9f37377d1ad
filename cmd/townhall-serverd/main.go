// Command townhall-serverd runs the retrieval-augmented question-answering
// HTTP service: the /answer, /search, /content endpoints and the
// bearer-protected /cron scheduled entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/townhall-civic/rag/internal/answerservice"
	"github.com/townhall-civic/rag/internal/cache"
	"github.com/townhall-civic/rag/internal/composer"
	"github.com/townhall-civic/rag/internal/config"
	"github.com/townhall-civic/rag/internal/cron"
	"github.com/townhall-civic/rag/internal/embedclient"
	"github.com/townhall-civic/rag/internal/hybridsearch"
	"github.com/townhall-civic/rag/internal/httpapi"
	"github.com/townhall-civic/rag/internal/ingestion"
	"github.com/townhall-civic/rag/internal/llmchat"
	"github.com/townhall-civic/rag/internal/logging"
	"github.com/townhall-civic/rag/internal/monitor"
	"github.com/townhall-civic/rag/internal/registry"
	"github.com/townhall-civic/rag/internal/router"
	"github.com/townhall-civic/rag/internal/store"
	"github.com/townhall-civic/rag/internal/telemetry"
	"github.com/townhall-civic/rag/internal/tenant"
	"github.com/townhall-civic/rag/internal/usage"
	"github.com/townhall-civic/rag/internal/vectorindex"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: "+err.Error())
		os.Exit(1)
	}

	logging.Init(cfg.LogMode)
	log := logging.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	index, err := openVectorIndex(cfg, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open vector index")
	}

	embedCache := cache.New(cfg.EmbedCacheSize, cfg.EmbedCacheTTL)
	embed := embedclient.New(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.VectorDim, cfg.EmbeddingBatch, embedCache)

	if cfg.EmbeddingAPIKey != "" {
		probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := embed.CheckReachability(probeCtx); err != nil {
			log.Warn().Err(err).Msg("embedding provider reachability check failed at startup")
		}
		probeCancel()
	}

	llm := newLLMProvider(cfg)

	tenants := tenant.NewDirectory(tenant.Profile{
		Name: "your town", Phone: cfg.DefaultTenantPhone, URL: cfg.DefaultTenantURL,
	})

	metrics := telemetry.NewOtelMetrics(telemetry.NewMeterProvider())
	usageRecorder := usage.New(st, logging.Component("usage"))
	usageRecorder.Metrics = metrics

	searcher := &hybridsearch.Searcher{
		Embed: embed, Index: index, Store: st, Log: logging.Component("hybridsearch"),
		MinSimilarity: cfg.MinSimilarity, ContentNamespaceFrac: cfg.ContentNamespaceFrac,
	}
	rtr := router.New(llm, cfg.RewriteModel, logging.Component("router"))
	answerCacheStore := &cache.AnswerCacheWithRedis{
		Durable: st, Redis: cache.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "answercache"),
	}
	answerComposer := &composer.Composer{
		Provider: llm, Model: cfg.LLMModel, Store: answerCacheStore, Usage: usageRecorder,
		Log: logging.Component("composer"), AnswerCacheTTL: cfg.AnswerCacheTTL,
	}
	answerSvc := &answerservice.Service{
		Router: rtr, Search: searcher, Compose: answerComposer, Tenants: tenants,
		Log: logging.Component("answerservice"), DefaultMatchCount: cfg.DefaultMatchCount,
	}

	reg := registry.New(tenants)
	ingestRunner := ingestion.New(st, st, st, reg, embed, index, logging.Component("ingestion"))
	monitorRunner := monitor.New(st, st, logging.Component("monitor"))
	monitorRunner.StalenessHorizon = cfg.StalenessHorizon
	cronRunner := cron.New(monitorRunner, ingestRunner, logging.Component("cron"))

	server := httpapi.NewServer(httpapi.Deps{
		Answer: answerSvc, Router: rtr, Search: searcher, Store: st,
		Cron: cronRunner, CronBearerToken: cfg.CronBearerToken, Log: logging.Component("httpapi"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("townhall-serverd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	pg, err := store.OpenPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	return pg, pg.Close, nil
}

func openVectorIndex(cfg config.Config, st store.Store) (vectorindex.Index, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return vectorindex.NewQdrant(cfg.QdrantURL, cfg.VectorDim, cfg.VectorMetric)
	case "postgres":
		pg, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, fmt.Errorf("VECTOR_BACKEND=postgres requires DATABASE_URL store backend")
		}
		return vectorindex.NewPostgres(pg.Pool(), cfg.VectorDim, cfg.VectorMetric), nil
	default:
		return vectorindex.NewMemory(), nil
	}
}

func newLLMProvider(cfg config.Config) llmchat.Provider {
	if cfg.LLMProvider == "anthropic" {
		return llmchat.NewAnthropicProvider(cfg.LLMAPIKey)
	}
	return llmchat.NewOpenAIProvider(cfg.LLMBaseURL, cfg.LLMAPIKey)
}

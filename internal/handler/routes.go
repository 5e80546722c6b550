package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RelayVoiceAI/relay-call-service/internal/adapters/aiagent"
	"github.com/RelayVoiceAI/relay-call-service/internal/adapters/callcontrol"
	"github.com/RelayVoiceAI/relay-call-service/internal/adapters/notify"
	"github.com/RelayVoiceAI/relay-call-service/internal/config"
	"github.com/RelayVoiceAI/relay-call-service/internal/correlation"
	"github.com/RelayVoiceAI/relay-call-service/internal/events"
	"github.com/RelayVoiceAI/relay-call-service/internal/repository"
	"github.com/RelayVoiceAI/relay-call-service/internal/services/bridge"
	"github.com/RelayVoiceAI/relay-call-service/pkg/logger"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config      *config.Config
	service     *bridge.Service
	buffer      *events.Buffer
	store       correlation.Store
	repoManager repository.Manager
}

// NewHandlerManager creates and initializes all handlers and services
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	store := newCorrelationStore(cfg)
	repoManager := newRepositoryManager(cfg)
	buffer := events.NewBuffer(cfg.EventBufferSize)

	// 10 req/s with a small burst keeps us under the provider's command rate
	// limit across concurrent webhook handlers.
	limiter := rate.NewLimiter(rate.Limit(10), 20)
	control := callcontrol.NewClient(cfg.CallControlBaseURL, cfg.CallControlAPIKey, cfg.ConnectionID, limiter)

	agents := aiagent.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AISIPTrunk)
	notifier := notify.NewSupervisor(cfg.SupervisorBaseURL)

	service := bridge.NewService(cfg, store, control, agents, notifier, repoManager)
	service.Start()

	return &HandlerManager{
		config:      cfg,
		service:     service,
		buffer:      buffer,
		store:       store,
		repoManager: repoManager,
	}, nil
}

// newCorrelationStore picks redis when configured, falling back to the
// in-process store for single-instance deployments.
func newCorrelationStore(cfg *config.Config) correlation.Store {
	if cfg.RedisHost == "" {
		logger.Base().Info("using in-memory correlation store")
		return correlation.NewMemoryStore()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Base().Warn("redis unreachable, falling back to in-memory correlation store", zap.Error(err))
		return correlation.NewMemoryStore()
	}

	logger.Base().Info("using redis correlation store",
		zap.String("host", cfg.RedisHost), zap.String("port", cfg.RedisPort))
	return correlation.NewRedisStore(client, cfg.CallbackTTL)
}

// newRepositoryManager picks postgres when a DSN is configured.
func newRepositoryManager(cfg *config.Config) repository.Manager {
	if cfg.DatabaseDSN == "" {
		logger.Base().Info("using in-memory call history")
		return repository.NewMemoryManager(cfg.TranscriptLimit)
	}

	manager, err := repository.NewGormManager(cfg.DatabaseDSN)
	if err != nil {
		logger.Base().Warn("database unreachable, falling back to in-memory call history", zap.Error(err))
		return repository.NewMemoryManager(cfg.TranscriptLimit)
	}

	logger.Base().Info("using postgres call history")
	return manager
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	if hm.config.EnableCORS {
		router.Use(CORSMiddleware)
	}
	router.Use(GlobalLoggingMiddleware)

	hm.SetupWebhookRoutes(router)
	hm.SetupAPIRoutes(router)

	router.HandleFunc("/health", hm.handleHealth).Methods("GET")

	logger.Base().Info("all application routes registered")
}

// SetupWebhookRoutes sets up call-control webhook routes
func (hm *HandlerManager) SetupWebhookRoutes(router *mux.Router) {
	webhookHandler := NewWebhookHandler(hm.service, hm.buffer)
	webhookHandler.SetupWebhookRoutes(router)
}

// SetupAPIRoutes sets up the read API routes and middleware
func (hm *HandlerManager) SetupAPIRoutes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api").Subrouter()

	apiRouter.Use(LoggingMiddleware)
	apiRouter.Use(ValidationMiddleware)
	apiRouter.Use(APIKeyMiddleware(hm.config.APIJWTSecret))

	apiHandler := NewAPIHandler(hm.service, hm.buffer, hm.repoManager)
	apiHandler.SetupAPIRoutes(apiRouter)

	router.PathPrefix("/api/").HandlerFunc(handleCORS).Methods("OPTIONS")

	logger.Base().Info("read api routes registered")
}

func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := hm.repoManager.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status": %q}`, status)
}

// Shutdown stops background work and closes shared resources.
func (hm *HandlerManager) Shutdown() {
	hm.service.Stop()
	if err := hm.repoManager.Close(); err != nil {
		logger.Base().Warn("repository close failed", zap.Error(err))
	}
}

// GetService returns the orchestration service
func (hm *HandlerManager) GetService() *bridge.Service {
	return hm.service
}

// GetRepoManager returns the repository manager
func (hm *HandlerManager) GetRepoManager() repository.Manager {
	return hm.repoManager
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/proof-portal/pkg/attachment"
	"github.com/synaptica-ai/proof-portal/pkg/common/config"
	"github.com/synaptica-ai/proof-portal/pkg/common/database"
	"github.com/synaptica-ai/proof-portal/pkg/common/kafka"
	"github.com/synaptica-ai/proof-portal/pkg/common/logger"
	"github.com/synaptica-ai/proof-portal/pkg/gateway/middleware"
	"github.com/synaptica-ai/proof-portal/pkg/observability/metrics"
	"github.com/synaptica-ai/proof-portal/pkg/proofrequest"
)

const serviceName = "proof-service"

func main() {
	logger.Init(serviceName)
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cache := buildStore(cfg)

	templatesCfg, err := proofrequest.LoadTemplates(cfg.ProofTemplatesFile)
	if err != nil {
		if len(templatesCfg.Templates) == 0 {
			logger.Log.WithError(err).Fatal("failed to load proof request templates")
		}
		logger.Log.WithError(err).Warn("templates file unreadable, using defaults")
	}
	templates, err := proofrequest.NewTemplateCatalog(templatesCfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("invalid proof request templates")
	}

	var attachments proofrequest.AttachmentStore
	switch {
	case cfg.AttachmentServiceURL != "":
		attachments = attachment.NewClient(cfg.AttachmentServiceURL, cfg.AttachmentTimeout)
	case cfg.AttachmentBaseURL != "":
		attachments = attachment.NewStaticResolver(cfg.AttachmentBaseURL)
	}

	opts := []proofrequest.Option{
		proofrequest.WithDefaultExpiry(cfg.ProofDefaultExpiry),
		proofrequest.WithInstanceID(cfg.InstanceID),
		proofrequest.WithAttachmentBudget(cfg.AttachmentBudget),
	}
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.ProofEventsTopic)
		defer producer.Close()
		opts = append(opts, proofrequest.WithPublisher(producer))

		if cache != nil {
			consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ProofEventsTopic, cfg.CacheGroupID(), kafka.StartAtLatest())
			defer consumer.Close()
			go func() {
				err := consumer.Consume(ctx, cache.PeerInvalidation(cfg.InstanceID))
				if err != nil && ctx.Err() == nil {
					logger.Log.WithError(err).Error("proof event consumer stopped")
				}
			}()
		}
	} else {
		logger.Log.Warn("KAFKA_BROKERS not set, lifecycle events will not be published")
	}

	service := proofrequest.NewService(store, attachments, templates, opts...)
	handler := proofrequest.NewHandler(service, proofrequest.HandlerConfig{
		DefaultPageSize: cfg.ProofDefaultPageSize,
		MaxPageSize:     cfg.ProofMaxPageSize,
	})

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Actor)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.GatewayRateLimitRPS, cfg.GatewayRateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"addr":        address,
			"instance_id": cfg.InstanceID,
		}).Info("Proof service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start proof service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down proof service...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("proof service forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Warn("failed to close postgres")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Warn("failed to close redis")
	}
	logger.Log.Info("Proof service stopped")
}

// buildStore returns the store the service uses and, when Redis is
// reachable, the cache layer so it can be invalidated from the event bus.
func buildStore(cfg *config.Config) (proofrequest.Store, *proofrequest.CachedStore) {
	var store proofrequest.Store
	switch cfg.ProofStore {
	case "memory":
		logger.Log.Warn("using in-memory proof request store")
		store = proofrequest.NewMemoryStore()
	default:
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		repo := proofrequest.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate proof request tables")
		}
		store = repo
	}

	if !cfg.RedisEnabled() {
		return store, nil
	}
	client, err := database.GetRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("redis unavailable, proof request list cache disabled")
		return store, nil
	}
	cache := proofrequest.NewCachedStore(store, client, cfg.ProofListCacheTTL)
	return cache, cache
}

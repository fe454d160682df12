// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tinko-recovery/internal/audit"
	"tinko-recovery/internal/common/aws"
	"tinko-recovery/internal/common/config"
	"tinko-recovery/internal/common/database"
	commonerrors "tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/common/observability"
	"tinko-recovery/internal/psp"
	"tinko-recovery/internal/queue"
	"tinko-recovery/internal/recovery"
	"tinko-recovery/internal/webhook"

	era "tinko-recovery/internal/workers/recovery/execute-retry-attempt"

	se "tinko-recovery/internal/workers/notification/send-email"
	srs "tinko-recovery/internal/workers/notification/send-recovery-sms"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	// The engine survives without Redis (dedup and link caching degrade to
	// the database) so a failure here is logged, not fatal.
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 5, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Warn("redis unavailable, dedup fast path and link caching disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")
	}

	// --- Init Elasticsearch (optional audit trail) ---
	var auditSink webhook.AuditSink
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 5, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Warn("elasticsearch unavailable, webhook audit trail disabled", zap.Error(err))
		} else {
			auditSink = audit.NewSink(esClient, cfg.Database.Elasticsearch.AuditIndex, log)
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Init AWS Clients ---
	var sesClient *aws.SESClient
	if cfg.Integrations.AWS.SES.Enabled {
		sesClient, err = aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client initialization failed", zap.Error(err))
		}
	}
	var snsClient *aws.SNSClient
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err = aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client initialization failed", zap.Error(err))
		}
	}

	// --- Stores and Services ---
	jobStore := queue.NewStore(pg.DB)
	recoveryStore := recovery.NewStore(pg.DB)

	redisRaw := redisClientOrNil(redisClient)

	recoveryService, err := recovery.NewService(recovery.ServiceOptions{
		Store:       recoveryStore,
		Redis:       redisRaw,
		Enqueuer:    jobStore,
		Config:      cfg.Recovery,
		RetryConfig: cfg.Retry,
		Logger:      log,
	})
	if err != nil {
		zapLog.Fatal("recovery service initialization failed", zap.Error(err))
	}

	processor, err := webhook.NewProcessor(webhook.ProcessorOptions{
		Store:     recoveryStore,
		Service:   recoveryService,
		Enqueuer:  jobStore,
		Redis:     redisRaw,
		Providers: cfg.Providers,
		Audit:     auditSink,
		Logger:    log,
	})
	if err != nil {
		zapLog.Fatal("webhook processor initialization failed", zap.Error(err))
	}

	// --- Register Task Handlers ---
	registry := queue.NewRegistry()

	if taskEnabled(cfg, se.TaskName) {
		if sesClient == nil {
			zapLog.Fatal("send_email enabled but integrations.aws.ses is not")
		}
		handler, err := se.NewHandler(se.HandlerOptions{
			CustomConfig: &se.Config{
				Enabled:         true,
				Timeout:         taskTimeout(cfg, se.TaskName, 30*time.Second),
				FromEmail:       cfg.Integrations.AWS.SES.FromEmail,
				RecoveryBaseURL: cfg.Recovery.BaseURL,
				DefaultBrand:    "TINKO Recovery",
			},
			Store: se.ServiceDependencies{
				Store:  recoveryStore,
				Sender: sesClient,
			},
			Logger: log,
		})
		if err != nil {
			zapLog.Fatal("failed to create send_email handler", zap.Error(err))
		}
		mustRegister(registry, handler, zapLog)
	}

	if taskEnabled(cfg, srs.TaskName) {
		if snsClient == nil {
			zapLog.Fatal("send_recovery_sms enabled but integrations.aws.sns is not")
		}
		handler, err := srs.NewHandler(srs.HandlerOptions{
			CustomConfig: &srs.Config{
				Enabled:         true,
				Timeout:         taskTimeout(cfg, srs.TaskName, 15*time.Second),
				SenderID:        cfg.Integrations.AWS.SNS.DefaultSMSSenderID,
				RecoveryBaseURL: cfg.Recovery.BaseURL,
				DefaultBrand:    "TINKO Recovery",
			},
			Store: srs.ServiceDependencies{
				Store:     recoveryStore,
				Publisher: snsClient,
			},
			Logger: log,
		})
		if err != nil {
			zapLog.Fatal("failed to create send_recovery_sms handler", zap.Error(err))
		}
		mustRegister(registry, handler, zapLog)
	}

	if taskEnabled(cfg, era.TaskName) {
		// Without API credentials the retry handler runs on ledger state
		// alone and skips the provider-side paid check.
		var payments era.PaymentChecker
		if cfg.Providers.Razorpay.KeyID != "" {
			payments = psp.NewRazorpayClient(cfg.Providers.Razorpay)
		}
		handler, err := era.NewHandler(era.HandlerOptions{
			CustomConfig: &era.Config{
				Enabled: true,
				Timeout: taskTimeout(cfg, era.TaskName, 30*time.Second),
			},
			Store: era.ServiceDependencies{
				Store:    recoveryStore,
				Policies: recoveryService,
				Enqueuer: jobStore,
				Payments: payments,
			},
			Logger: log,
		})
		if err != nil {
			zapLog.Fatal("failed to create execute_retry_attempt handler", zap.Error(err))
		}
		mustRegister(registry, handler, zapLog)
	}

	zapLog.Info("Task handlers registered", zap.Strings("tasks", registry.TaskNames()))

	// --- Worker Loop ---
	worker, err := queue.NewWorker(queue.WorkerOptions{
		Store:         jobStore,
		Registry:      registry,
		Config:        cfg.Queue,
		Logger:        log,
		Observability: obs,
	})
	if err != nil {
		zapLog.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.Start()
	zapLog.Info("Worker loop started",
		zap.Int("pollIntervalSeconds", cfg.Queue.PollIntervalSeconds),
		zap.Int("batchSize", cfg.Queue.BatchSize),
	)

	// --- Webhook Ingress, Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/razorpay", webhookHandler(processor, webhook.ProviderRazorpay, "X-Razorpay-Signature", zapLog))
	mux.HandleFunc("/webhooks/stripe", webhookHandler(processor, webhook.ProviderStripe, "Stripe-Signature", zapLog))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pg.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.App.MetricsAddr, Handler: mux}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", cfg.App.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	worker.Stop()

	zapLog.Info("Worker manager stopped gracefully")
}

// webhookHandler turns one provider's raw HTTP delivery into a processor
// call. Only a bad signature is rejected; every other outcome that reaches
// the ledger is acknowledged so the provider stops redelivering.
func webhookHandler(processor *webhook.Processor, provider, signatureHeader string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, err := processor.Process(r.Context(), webhook.Delivery{
			Provider:  provider,
			Signature: r.Header.Get(signatureHeader),
			Body:      body,
		})
		if err != nil {
			if commonerrors.IsCode(err, commonerrors.ErrCodeSignatureInvalid) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			// Nothing durable was recorded; a 5xx makes the provider retry.
			log.Error("webhook processing failed", zap.String("provider", provider), zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(result)
	}
}

func mustRegister(registry *queue.Registry, handler queue.Handler, log *zap.Logger) {
	if err := registry.Register(handler); err != nil {
		log.Fatal("handler registration failed", zap.Error(err))
	}
}

func taskEnabled(cfg *config.Config, taskName string) bool {
	task, ok := cfg.Tasks[taskName]
	if !ok {
		// Tasks absent from config run with defaults.
		return true
	}
	return task.Enabled
}

func taskTimeout(cfg *config.Config, taskName string, fallback time.Duration) time.Duration {
	if task, ok := cfg.Tasks[taskName]; ok && task.TimeoutSeconds > 0 {
		return time.Duration(task.TimeoutSeconds) * time.Second
	}
	return fallback
}

func redisClientOrNil(c *database.RedisClient) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client
}

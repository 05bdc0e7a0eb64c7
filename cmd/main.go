package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	httpSwagger "github.com/swaggo/http-swagger"

	"pdf-pipeline-server/config"
	_ "pdf-pipeline-server/docs"
	"pdf-pipeline-server/internal/handler"
	"pdf-pipeline-server/internal/ports"
	"pdf-pipeline-server/internal/queue"
	"pdf-pipeline-server/internal/repository"
	"pdf-pipeline-server/internal/security"
	"pdf-pipeline-server/internal/service"
	"pdf-pipeline-server/internal/storage"
	"pdf-pipeline-server/internal/validator"
	"pdf-pipeline-server/internal/worker"
)

// @title PDF-Pipeline-Server
// @version 1.0
// @description REST API конвейера обработки файлов

// @host localhost:8080

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	db, err := config.SetupDatabase(cfg.DatabaseConfig.DSN)
	if err != nil {
		log.Fatalf("Не удалось подключиться к БД: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Ошибка при закрытии БД: %v", err)
		}
	}()

	redisClient, err := config.SetupRedis(&cfg.RedisConfig)
	if err != nil {
		log.Fatalf("Ошибка подключения к Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Ошибка при закрытии Redis: %v", err)
		}
	}()

	store, err := storage.NewStorage(ctx, &cfg.Storage, cfg.JWT.SecretKey)
	if err != nil {
		log.Fatalf("Ошибка создания Storage Gateway: %v", err)
	}

	srv, router := config.SetupServer(cfg.ServerAddr)

	fileRepo := repository.NewFileRepository(db)
	versionRepo := repository.NewVersionRepository(db)
	jobRepo := repository.NewJobRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)
	quotaRepo := repository.NewQuotaRepository(redisClient, time.Duration(cfg.TTL.ReservationSeconds)*time.Second)
	jobQueue := queue.NewRedisJobQueue(redisClient)

	var scanner ports.VirusScanner
	if cfg.Antivirus.Enabled {
		scanner = validator.NewClamAVScanner(cfg.Antivirus.Addr, time.Duration(cfg.Antivirus.TimeoutS)*time.Second)
	}
	fileValidator := validator.NewFileValidator(scanner, cfg.IsProduction())

	auditService := service.NewAuditLogService(db, auditRepo)
	accessService := service.NewAccessControlService(auditService)
	resolver := service.NewUserContextService(db, userRepo, fileRepo, quotaRepo)
	quotaService := service.NewQuotaService(db, quotaRepo, jobRepo)
	toolRegistry := service.NewToolRegistry(service.BuiltinTools())
	jobService := service.NewJobService(db, jobRepo, fileRepo, toolRegistry, quotaService, jobQueue, auditService)
	fileService := service.NewFileService(db, fileRepo, versionRepo, store, fileValidator, quotaService,
		accessService, auditService, time.Duration(cfg.TTL.SignedURLSeconds)*time.Second, cfg.Storage.ChunkSizeBytes)
	cleanupService := service.NewCleanupService(db, fileRepo, jobRepo, quotaRepo, store)
	gdprService := service.NewGDPRService(db, userRepo, fileRepo, jobRepo, auditRepo, store, auditService)

	runtime := worker.NewRuntime(db, jobRepo, fileRepo, versionRepo, store, jobService,
		resolver, toolRegistry, worker.BuiltinWorkers(),
		time.Duration(cfg.Worker.DefaultTimeoutS)*time.Second, time.Duration(cfg.Worker.AITimeoutS)*time.Second)
	pool := worker.NewPool(runtime, jobQueue, cfg.Worker.Count, time.Duration(cfg.Worker.PollTimeoutS)*time.Second)

	go func() {
		if err := pool.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("пул воркеров остановлен: %v", err)
		}
	}()
	go runScheduler(ctx, jobService, cleanupService, time.Duration(cfg.TTL.JobRetentionDays)*24*time.Hour)

	jwtService := security.NewJWTService(cfg.JWT.SecretKey)

	fileHandler := handler.NewFileHandler(fileService, jobService, resolver)
	jobHandler := handler.NewJobHandler(jobService, toolRegistry, resolver)
	adminHandler := handler.NewAdminHandler(jobService, cleanupService)
	gdprHandler := handler.NewGDPRHandler(gdprService, resolver)

	router.Get("/swagger/*", httpSwagger.WrapHandler)

	setupFileRoutes(router, fileHandler, jwtService, cfg)
	setupJobRoutes(router, jobHandler, jwtService, cfg)
	setupGDPRRoutes(router, gdprHandler, jwtService, cfg)
	setupInternalRoutes(router, adminHandler, cfg)

	runServer(ctx, srv)
}

func setupFileRoutes(r chi.Router, h *handler.FileHandler, jwtService *security.JWTService, cfg *config.AppConfig) {
	r.Route("/api/files", func(r chi.Router) {
		r.Use(security.JWTMiddleware(jwtService, cfg.InternalServiceToken))
		r.Post("/", h.UploadFile)

		r.Route("/{uuid}", func(r chi.Router) {
			r.Get("/", h.GetFile)
			r.Get("/history", h.GetFileHistory)
			r.Get("/versions", h.ListVersions)
			r.Get("/download", h.DownloadFile)
			r.Post("/process", h.ProcessFile)
			r.Delete("/", h.DeleteFile)
		})
	})
}

func setupJobRoutes(r chi.Router, h *handler.JobHandler, jwtService *security.JWTService, cfg *config.AppConfig) {
	r.Route("/api/jobs", func(r chi.Router) {
		r.Use(security.JWTMiddleware(jwtService, cfg.InternalServiceToken))
		r.Get("/", h.ListMyJobs)
		r.Get("/{uuid}", h.GetJob)
		r.Post("/{uuid}/cancel", h.CancelJob)
		r.Post("/{uuid}/retry", h.RetryJob)
	})
	r.Get("/api/tools", h.ListTools)
}

func setupGDPRRoutes(r chi.Router, h *handler.GDPRHandler, jwtService *security.JWTService, cfg *config.AppConfig) {
	r.Route("/api/gdpr", func(r chi.Router) {
		r.Use(security.JWTMiddleware(jwtService, cfg.InternalServiceToken))
		r.Get("/export", h.ExportUserData)
		r.Post("/delete", h.DeleteUserData)
	})
}

func setupInternalRoutes(r chi.Router, h *handler.AdminHandler, cfg *config.AppConfig) {
	r.Route("/internal", func(r chi.Router) {
		r.Use(security.InternalTokenMiddleware(cfg.InternalServiceToken))
		r.Get("/queues/stats", h.QueueStats)
		r.Get("/dlq", h.ListDeadLetter)
		r.Post("/dlq/{uuid}/requeue", h.RequeueDeadLetter)
		r.Post("/cleanup", h.RunCleanup)
		r.Post("/users/{uuid}/quota/recompute", h.RecomputeQuota)
	})
}

// runScheduler крутит плановые задачи на тикерах: продвижение ретраев,
// истечение файлов, гостевой реапер, чистка задач и полуночный сброс
// суточных счётчиков.
func runScheduler(ctx context.Context, jobs *service.JobService, cleanup *service.CleanupService, jobRetention time.Duration) {
	retryTicker := time.NewTicker(5 * time.Second)
	expireTicker := time.NewTicker(time.Minute)
	reaperTicker := time.NewTicker(10 * time.Minute)
	pruneTicker := time.NewTicker(time.Hour)
	defer retryTicker.Stop()
	defer expireTicker.Stop()
	defer reaperTicker.Stop()
	defer pruneTicker.Stop()

	midnight := time.NewTimer(untilMidnightUTC(time.Now()))
	defer midnight.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-retryTicker.C:
			if n, err := jobs.PromoteDueRetries(ctx, now); err != nil {
				log.Printf("[Scheduler] продвижение ретраев: %v", err)
			} else if n > 0 {
				log.Printf("[Scheduler] возвращено ретраев в очередь: %d", n)
			}
		case now := <-expireTicker.C:
			if n, err := cleanup.ExpireAgedFiles(ctx, now); err != nil {
				log.Printf("[Scheduler] истечение файлов: %v", err)
			} else if n > 0 {
				log.Printf("[Scheduler] файлов переведено в EXPIRED: %d", n)
			}
		case now := <-reaperTicker.C:
			if n, err := cleanup.ReapGuestFiles(ctx, now); err != nil {
				log.Printf("[Scheduler] гостевой реапер: %v", err)
			} else if n > 0 {
				log.Printf("[Scheduler] гостевых файлов удалено: %d", n)
			}
		case now := <-pruneTicker.C:
			if n, err := cleanup.PruneJobs(ctx, now, jobRetention); err != nil {
				log.Printf("[Scheduler] чистка задач: %v", err)
			} else if n > 0 {
				log.Printf("[Scheduler] удалено терминальных задач: %d", n)
			}
		case <-midnight.C:
			if _, err := cleanup.ResetDailyCounters(ctx); err != nil {
				log.Printf("[Scheduler] сброс суточных счётчиков: %v", err)
			}
			midnight.Reset(untilMidnightUTC(time.Now()))
		}
	}
}

func untilMidnightUTC(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now.UTC())
}

func runServer(ctx context.Context, server *http.Server) {
	serverErrors := make(chan error, 1)
	go func() {
		log.Println("сервер запущен на " + server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Fatalf("ошибка работы сервера: %v", err)
		}
	case sig := <-signalChannel:
		log.Printf("получен сигнал %v остановки работы сервера ", sig)
	}

	shutDownCtx, shutDownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutDownCancel()

	if err := server.Shutdown(shutDownCtx); err != nil {
		log.Printf("ошибка при остановке сервера: %v", err)
	} else {
		log.Println("Сервер успешно остановлен")
	}
}

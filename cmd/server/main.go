package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/makerlink/print3d-backend/internal/config"
	"github.com/makerlink/print3d-backend/internal/db"
	"github.com/makerlink/print3d-backend/internal/goroutine"
	httpHandlers "github.com/makerlink/print3d-backend/internal/http/handlers"
	httpRouter "github.com/makerlink/print3d-backend/internal/http/router"
	"github.com/makerlink/print3d-backend/internal/logger"
	"github.com/makerlink/print3d-backend/internal/payment"
	"github.com/makerlink/print3d-backend/internal/repository"
	"github.com/makerlink/print3d-backend/internal/service"
	"github.com/makerlink/print3d-backend/internal/storage"
	"github.com/makerlink/print3d-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера.
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательная инфраструктура.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	recovery := goroutine.NewRecoveryHandler(logger.Log)

	mediaStorage, err := storage.NewPhotoStorage(cfg.MediaStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	gateway, err := payment.NewStripeGateway(payment.StripeGatewayConfig{APIKey: cfg.StripeSecretKey})
	if err != nil {
		log.Fatalf("main: не удалось настроить платёжный шлюз: %v", err)
	}

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn)
	conversationRepo := repository.NewConversationRepository(dbConn)
	contractRepo := repository.NewContractRepository(dbConn)
	transactionRepo := repository.NewTransactionRepository(dbConn)
	payoutRepo := repository.NewPayoutRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	favoriteRepo := repository.NewFavoriteRepository(dbConn)
	mediaRepo := repository.NewMediaRepository(dbConn)

	// Вебсокеты: hub шлёт события онлайн, адаптер сохраняет их в базу.
	notificationService := service.NewNotificationService(notificationRepo)
	hub := ws.NewHub(ctx)
	hub.SetNotificationSaver(ws.NewNotificationServiceAdapter(notificationService))
	go hub.Run()

	// Сервисы.
	authService := service.NewAuthService(userRepo, tokenManager)
	projectService := service.NewProjectService(projectRepo)
	negotiationService := service.NewNegotiationService(conversationRepo, projectRepo, contractRepo, hub, recovery)
	contractService := service.NewContractService(contractRepo, conversationRepo, transactionRepo, userRepo, gateway, hub, recovery)
	payoutService := service.NewPayoutService(payoutRepo, userRepo, gateway, hub, recovery)
	complianceService := service.NewComplianceService(userRepo)
	favoriteService := service.NewFavoriteService(favoriteRepo, userRepo)

	// HTTP хэндлеры и роутер.
	h := httpRouter.Handlers{
		Auth:         httpHandlers.NewAuthHandler(authService),
		Project:      httpHandlers.NewProjectHandler(projectService),
		Negotiation:  httpHandlers.NewNegotiationHandler(negotiationService),
		Contract:     httpHandlers.NewContractHandler(contractService, cfg.WebhookToken),
		Payout:       httpHandlers.NewPayoutHandler(payoutService),
		Compliance:   httpHandlers.NewComplianceHandler(complianceService),
		Favorite:     httpHandlers.NewFavoriteHandler(favoriteService),
		Notification: httpHandlers.NewNotificationHandler(notificationService),
		Media:        httpHandlers.NewMediaHandler(mediaRepo, mediaStorage),
		WS:           httpHandlers.NewWSHandler(hub, tokenManager),
		Admin:        httpHandlers.NewAdminHandler(negotiationService, cfg.SweepToken),
		Health:       httpHandlers.NewHealthHandler(dbConn),
	}

	engine := httpRouter.SetupRouter(cfg, h, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}

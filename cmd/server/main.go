package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ahmadabdelnby/freelance-backend/internal/config"
	"github.com/ahmadabdelnby/freelance-backend/internal/db"
	"github.com/ahmadabdelnby/freelance-backend/internal/gateway"
	"github.com/ahmadabdelnby/freelance-backend/internal/goroutine"
	httpHandlers "github.com/ahmadabdelnby/freelance-backend/internal/http/handlers"
	httpRouter "github.com/ahmadabdelnby/freelance-backend/internal/http/router"
	"github.com/ahmadabdelnby/freelance-backend/internal/logger"
	"github.com/ahmadabdelnby/freelance-backend/internal/mail"
	"github.com/ahmadabdelnby/freelance-backend/internal/repository"
	"github.com/ahmadabdelnby/freelance-backend/internal/service"
	"github.com/ahmadabdelnby/freelance-backend/internal/storage"
	"github.com/ahmadabdelnby/freelance-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
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

	// Инициализируем вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	fileStorage, err := storage.NewFileStorage(cfg.MediaStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	contractRepo := repository.NewContractRepository(dbConn)
	modificationRepo := repository.NewModificationRepository(dbConn)
	conversationRepo := repository.NewConversationRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	jobRepo := repository.NewJobRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub(ctx)
	go hub.Run()

	// Сервисы.
	paypal := gateway.NewPayPalClient(cfg.PayPalBaseURL, cfg.PayPalClientID, cfg.PayPalSecret)
	mailer := mail.NewLogMailer()

	authService := service.NewAuthService(userRepo, tokenManager)
	notificationService := service.NewNotificationService(notificationRepo, hub)
	paymentService := service.NewPaymentService(paymentRepo, ledgerRepo, userRepo, paypal, cfg.PlatformFeeRate)
	contractService := service.NewContractService(
		contractRepo,
		modificationRepo,
		jobRepo,
		ledgerRepo,
		paymentService,
		userRepo,
		notificationService,
		mailer,
	)
	chatService := service.NewChatService(conversationRepo, ledgerRepo, hub, notificationService, cfg.MessageEditWindow)

	// Входящие сообщения сокета и события присутствия идут через чат-сервис.
	hub.SetMessageSink(chatService)
	hub.SetPresenceListener(chatService)

	// Фоновая сверка зависших escrow.
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		paymentService.RunReconciliation(ctx, cfg.ReconcileInterval)
	})

	// HTTP хэндлеры.
	h := httpRouter.Handlers{
		Auth:         httpHandlers.NewAuthHandler(authService),
		Contract:     httpHandlers.NewContractHandler(contractService, fileStorage),
		Payment:      httpHandlers.NewPaymentHandler(paymentService),
		Notification: httpHandlers.NewNotificationHandler(notificationService),
		Conversation: httpHandlers.NewConversationHandler(chatService),
		Admin:        httpHandlers.NewAdminHandler(contractService),
		WS:           httpHandlers.NewWSHandler(hub, tokenManager),
		Health:       httpHandlers.NewHealthHandler(dbConn),
	}

	engine := httpRouter.New(cfg, tokenManager, h)

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

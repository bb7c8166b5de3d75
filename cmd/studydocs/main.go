// Точка входа studydocs — backend каталога учебных PDF-документов
// с двухуровневым хранилищем (PostgreSQL + локальный fallback).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/arturkryukov/studydocs/internal/api/handlers"
	"github.com/arturkryukov/studydocs/internal/api/middleware"
	"github.com/arturkryukov/studydocs/internal/config"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/server"
	"github.com/arturkryukov/studydocs/internal/service"
	"github.com/arturkryukov/studydocs/internal/storage/filestore"
	"github.com/arturkryukov/studydocs/internal/storage/localstore"
	"github.com/arturkryukov/studydocs/internal/storage/primary"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("studydocs запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("db_host", cfg.DBHost),
	)

	// --- Инициализация компонентов ---

	ctx := context.Background()

	// 1. Локальное хранилище — последний рубеж durability.
	// Его неуспех фатален: без snapshot сервису нечем отвечать.
	local, err := localstore.New(cfg.SnapshotFile, logger)
	if err != nil {
		logger.Error("Ошибка инициализации локального хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Файловое хранилище payload
	files, err := filestore.New(cfg.UploadDir)
	if err != nil {
		logger.Error("Ошибка инициализации файлового хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Состояние доступности и клиент PostgreSQL.
	// Недоступность PostgreSQL на старте НЕ фатальна: сервис поднимается
	// на fallback, монитор переподключится в фоне.
	state := dbstate.New()
	primaryClient := primary.New(cfg, state, logger)
	if connErr := primaryClient.Connect(ctx); connErr != nil {
		logger.Warn("PostgreSQL недоступен на старте, работа на локальном fallback",
			slog.String("error", connErr.Error()),
		)
		middleware.PrimaryReachable.Set(0)
	} else {
		middleware.PrimaryReachable.Set(1)
	}
	defer primaryClient.Close()

	// 4. Кэш payload
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL, logger)

	// 5. Сервисы
	reconcileSvc := service.NewReconcileService(local, files, primaryClient, state, logger)
	docsSvc := service.NewDocumentService(cfg, local, files, primaryClient, state, cache, logger)

	// Стартовая сверка: pending записи, накопленные пока сервис был
	// остановлен, зеркалируются до приёма трафика
	if state.IsReachable() {
		if syncErr := reconcileSvc.RunOnce(ctx); syncErr != nil {
			logger.Warn("Стартовая сверка не выполнена",
				slog.String("error", syncErr.Error()),
			)
		}
	}

	// 6. Фоновые процессы

	// 6.1 Монитор соединения с PostgreSQL
	monitorSvc := service.NewMonitorService(cfg.ReconnectInterval, primaryClient, state, reconcileSvc, logger)
	monitorSvc.Start(ctx)

	// 6.2 topologymetrics — мониторинг зависимостей.
	// Требует живого пула соединений: при недоступном PostgreSQL на старте
	// пропускается (монитор всё равно отслеживает доступность).
	var dephealthSvc *service.DephealthService
	if pool := primaryClient.Pool(); pool != nil {
		db := stdlib.OpenDBFromPool(pool)
		dephealthSvc, err = service.NewDephealthService(
			cfg.ServiceID,
			cfg.DephealthGroup,
			db,
			cfg.DatabaseDSN(),
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. JWT middleware для admin endpoints (опционально)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			// JWT недоступен — запускаем без аутентификации (для разработки)
			logger.Warn("JWT JWKS недоступен, запуск без аутентификации",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("error", err.Error()),
			)
			jwtAuth = nil
		} else {
			logger.Info("JWT аутентификация настроена",
				slog.String("jwks_url", cfg.JWKSUrl),
			)
		}
	} else {
		logger.Warn("SD_JWKS_URL не задан, admin endpoints без аутентификации")
	}

	// 8. Handlers и HTTP-сервер
	apiHandler := handlers.NewAPIHandler(cfg, docsSvc, monitorSvc, state, logger)
	srv := server.New(cfg, logger, apiHandler, jwtAuth)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	monitorSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("studydocs остановлен")
}

// Точка входа User Module — сервис провижининга пользователей Cloud Foundry.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт клиенты UAA и Cloud Controller, реконсайлер и сервисный слой,
// запускает фоновую сверку, topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/cfusers/internal/api/handlers"
	"github.com/bigkaa/cfusers/internal/cfapi"
	"github.com/bigkaa/cfusers/internal/config"
	"github.com/bigkaa/cfusers/internal/database"
	"github.com/bigkaa/cfusers/internal/provisioner"
	"github.com/bigkaa/cfusers/internal/repository"
	"github.com/bigkaa/cfusers/internal/server"
	"github.com/bigkaa/cfusers/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("User Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("UM_DEPHEALTH_GROUP") == "" {
		logger.Warn("UM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL будет идти через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент с кастомным CA (для UAA и Cloud Controller)
	httpClient, err := cfapi.NewHTTPClient(cfg.CACertPath, cfg.ProviderTimeout)
	if err != nil {
		logger.Error("Ошибка создания HTTP-клиента",
			slog.String("ca_cert", cfg.CACertPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if cfg.CACertPath != "" {
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.CACertPath))
	}

	// 6. Источник токенов UAA (client credentials, общий для обоих клиентов)
	tokens := cfapi.NewTokenSource(cfg.UAAURL, cfg.UAAClientID, cfg.UAAClientSecret, httpClient, logger)

	// 7. Клиенты провайдеров
	uaaClient := cfapi.NewUAAClient(cfg.UAAURL, tokens, httpClient, logger)
	ccClient := cfapi.NewCCClient(cfg.CCURL, tokens, httpClient, logger)
	logger.Info("Клиенты Cloud Foundry созданы",
		slog.String("uaa_url", cfg.UAAURL),
		slog.String("cc_url", cfg.CCURL),
	)

	// 8. Repository
	userRepo := repository.NewUserRepository(pool)

	// 9. Реконсайлер: порядок провайдеров фиксирован — account, org, space
	reconciler := provisioner.New(userRepo, []provisioner.ResourceProvider{
		provisioner.NewAccountProvider(uaaClient),
		provisioner.NewOrgProvider(ccClient),
		provisioner.NewSpaceProvider(ccClient),
	}, cfg.ProviderTimeout, logger)

	// 10. Services
	userSvc := service.NewUserService(
		userRepo, reconciler,
		cfg.DefaultPassword, cfg.UserKeepAlive,
		cfg.ReconcileMaxElapsed,
		logger,
	)
	resyncSvc := service.NewResyncService(userRepo, reconciler, cfg.ResyncInterval, logger)

	// 11. Начальная сверка незавершённых записей при старте
	logger.Info("Начальная сверка незавершённых записей...")
	if result, syncErr := resyncSvc.SyncNow(ctx); syncErr != nil {
		logger.Warn("Ошибка начальной сверки",
			slog.String("error", syncErr.Error()),
		)
	} else {
		logger.Info("Начальная сверка завершена",
			slog.Int("total", result.Total),
			slog.Int("skipped", result.Skipped),
			slog.Int("provisioned", result.Provisioned),
			slog.Int("failed", result.Failed),
		)
	}

	// 12. Readiness checkers (PostgreSQL + UAA + Cloud Controller)
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		uaaClient,
		ccClient,
	)

	// 13. API handler (реализует generated.ServerInterface)
	apiHandler := handlers.NewAPIHandler(healthHandler, userSvc, logger)

	// 14. Запуск фоновой сверки
	resyncSvc.Start(ctx)

	// 14.1 topologymetrics — мониторинг зависимостей (PostgreSQL + UAA + CC)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"user-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.UAAURL,
		cfg.CCURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 15. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 16. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	resyncSvc.Stop()

	logger.Info("User Module остановлен")
}

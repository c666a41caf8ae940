// Точка входа Data Import — сервис пакетной загрузки данных.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт репозитории, конвейер обработки с пулом воркеров и сервисный слой,
// запускает HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/dataimport/internal/api/handlers"
	"github.com/bigkaa/dataimport/internal/api/middleware"
	"github.com/bigkaa/dataimport/internal/config"
	"github.com/bigkaa/dataimport/internal/database"
	"github.com/bigkaa/dataimport/internal/embedding"
	"github.com/bigkaa/dataimport/internal/pipeline"
	"github.com/bigkaa/dataimport/internal/repository"
	"github.com/bigkaa/dataimport/internal/server"
	"github.com/bigkaa/dataimport/internal/service"
	"github.com/bigkaa/dataimport/internal/validator"
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
	logger.Info("Data Import запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int("workers", cfg.Workers),
	)

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

	// 5. Repositories
	txRunner := repository.NewTxRunner(pool)
	importRepo := repository.NewImportRepository(pool, txRunner)
	recordRepo := repository.NewRecordRepository(pool, txRunner)

	// 6. Клиент векторизации (опциональный)
	var embedder embedding.Embedder
	if cfg.EmbeddingsEnabled {
		openaiEmbedder, err := embedding.NewOpenAI(cfg.EmbeddingHost, cfg.EmbeddingModel, logger)
		if err != nil {
			logger.Error("Ошибка создания клиента векторизации", slog.String("error", err.Error()))
			os.Exit(1)
		}
		embedder = openaiEmbedder
		logger.Info("Векторизация включена",
			slog.String("host", cfg.EmbeddingHost),
			slog.String("model", cfg.EmbeddingModel),
		)
	} else {
		logger.Info("Векторизация отключена: записи сохраняются без векторов")
	}

	// 7. Конвейер обработки: координатор + планировщик
	coordinator := pipeline.NewCoordinator(
		importRepo,
		recordRepo,
		validator.New(cfg.StrictAge),
		embedder,
		cfg.ChunkSize,
		cfg.EmbedBatchSize,
		cfg.EmbedMaxAttempts,
		logger,
	)
	scheduler, err := pipeline.NewScheduler(coordinator, cfg.Workers, cfg.QueueCapacity, cfg.JobTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания планировщика", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Services
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	ingestSvc := service.NewIngestService(importRepo, scheduler, logger)
	querySvc := service.NewQueryService(importRepo, recordRepo, cache, cfg.MaxPageSize, cfg.DefaultPageSize, logger)

	// 9. API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool))
	apiHandler := handlers.NewAPIHandler(ingestSvc, querySvc, healthHandler, cfg.MaxUploadSize, logger)

	// 10. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		scheduler.Stop()
		os.Exit(1)
	}

	// 11. Дорабатываем принятые задания перед выходом
	scheduler.Stop()
	logger.Info("Data Import остановлен")
}

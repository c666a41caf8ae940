package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/embedding"
	"github.com/bigkaa/dataimport/internal/parser"
	"github.com/bigkaa/dataimport/internal/validator"
)

// failureTimeout — бюджет на запись финального статуса failed,
// когда контекст задания уже истек.
const failureTimeout = 10 * time.Second

// ImportStore — операции над реестром импортов, нужные координатору.
type ImportStore interface {
	MarkProcessing(ctx context.Context, id string) error
	Finalize(ctx context.Context, id string, counts model.ImportCounts) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// RecordStore — сохранение записей импорта чанками.
type RecordStore interface {
	InsertBatch(ctx context.Context, importID string, records []*model.Record, chunkSize int) error
}

// Coordinator проводит одно задание через конвейер:
// processing → разбор → валидация → векторизация → сохранение → финализация.
// Переходы строго вперед; любая фатальная ошибка переводит импорт
// в терминальный статус failed.
type Coordinator struct {
	imports  ImportStore
	records  RecordStore
	validate *validator.Validator
	embedder embedding.Embedder // nil — векторизация отключена

	chunkSize        int
	embedBatchSize   int
	embedMaxAttempts int

	logger *slog.Logger
}

// NewCoordinator создает координатор конвейера.
func NewCoordinator(
	imports ImportStore,
	records RecordStore,
	validate *validator.Validator,
	embedder embedding.Embedder,
	chunkSize, embedBatchSize, embedMaxAttempts int,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		imports:          imports,
		records:          records,
		validate:         validate,
		embedder:         embedder,
		chunkSize:        chunkSize,
		embedBatchSize:   embedBatchSize,
		embedMaxAttempts: embedMaxAttempts,
		logger:           logger.With("component", "coordinator"),
	}
}

// Run выполняет задание до терминального статуса. Ошибка разбора или
// сохранения фатальна для всего импорта; сбой векторизации лишь
// деградирует записи до отсутствия вектора.
func (c *Coordinator) Run(ctx context.Context, job Job) {
	start := time.Now()
	log := c.logger.With("import_id", job.ImportID, "filename", job.Filename)

	if err := c.imports.MarkProcessing(ctx, job.ImportID); err != nil {
		c.fail(log, job.ImportID, fmt.Errorf("не удалось перевести импорт в processing: %w", err))
		return
	}

	mappings, err := parser.Parse(job.Data, job.Format)
	if err != nil {
		c.fail(log, job.ImportID, fmt.Errorf("разбор файла: %w", err))
		return
	}
	log.Info("файл разобран", "records", len(mappings))

	records := make([]*model.Record, len(mappings))
	var validIdx []int
	var validTexts []string
	for i, m := range mappings {
		rec := c.validate.Validate(m)
		records[i] = &rec
		if rec.Status == model.RecordStatusValid {
			validIdx = append(validIdx, i)
			validTexts = append(validTexts, validator.EmbedText(m))
		}
	}

	if c.embedder != nil && len(validIdx) > 0 {
		c.embedAll(ctx, log, records, validIdx, validTexts)
	}

	if err := c.records.InsertBatch(ctx, job.ImportID, records, c.chunkSize); err != nil {
		c.fail(log, job.ImportID, fmt.Errorf("сохранение записей: %w", err))
		return
	}

	counts := countRecords(records)
	if err := c.imports.Finalize(ctx, job.ImportID, counts); err != nil {
		c.fail(log, job.ImportID, fmt.Errorf("финализация импорта: %w", err))
		return
	}

	for _, rec := range records {
		recordsPersistedTotal.WithLabelValues(rec.Status).Inc()
	}
	importsCompletedTotal.WithLabelValues(model.ImportStatusCompleted).Inc()
	importDurationSeconds.Observe(time.Since(start).Seconds())

	log.Info("импорт завершен",
		"total", counts.Total,
		"processed", counts.Processed,
		"failed", counts.Failed,
		"duration", time.Since(start))
}

// Abort переводит незапущенное задание в статус failed.
// Вызывается планировщиком, когда пул воркеров не принял задание.
func (c *Coordinator) Abort(job Job, reason string) {
	log := c.logger.With("import_id", job.ImportID, "filename", job.Filename)
	c.fail(log, job.ImportID, errors.New(reason))
}

// embedAll векторизует валидные записи пакетами ограниченного размера.
// Пакетный сбой повторяется до embedMaxAttempts раз, затем все записи
// пакета деградируют до отсутствия вектора, оставаясь valid.
func (c *Coordinator) embedAll(ctx context.Context, log *slog.Logger, records []*model.Record, validIdx []int, texts []string) {
	for off := 0; off < len(texts); off += c.embedBatchSize {
		end := off + c.embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors := c.embedBatch(ctx, log, texts[off:end])
		if vectors == nil {
			continue
		}
		for i, vec := range vectors {
			records[validIdx[off+i]].Embedding = vec
		}
	}
}

// embedBatch выполняет один пакетный вызов с повторами.
// nil означает деградацию пакета после исчерпания попыток.
func (c *Coordinator) embedBatch(ctx context.Context, log *slog.Logger, texts []string) [][]float32 {
	var lastErr error
	for attempt := 1; attempt <= c.embedMaxAttempts; attempt++ {
		vectors, err := c.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			if len(vectors) != len(texts) {
				lastErr = fmt.Errorf("получено %d векторов для %d текстов", len(vectors), len(texts))
				embedBatchesTotal.WithLabelValues("error").Inc()
				continue
			}
			embedBatchesTotal.WithLabelValues("ok").Inc()
			return vectors
		}
		lastErr = err
		embedBatchesTotal.WithLabelValues("error").Inc()

		if ctx.Err() != nil {
			break
		}
	}

	embedBatchesTotal.WithLabelValues("degraded").Inc()
	log.Warn("пакет векторизации деградирован: записи сохраняются без векторов",
		"batch_size", len(texts), "error", lastErr)
	return nil
}

// fail переводит импорт в терминальный статус failed. Использует
// отсоединенный контекст: причина сбоя часто — истекший контекст
// задания, а финальный статус должен быть записан в любом случае.
func (c *Coordinator) fail(log *slog.Logger, importID string, cause error) {
	log.Error("импорт завершился с ошибкой", "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), failureTimeout)
	defer cancel()

	reason := cause.Error()
	var parseErr *parser.ParseError
	if errors.As(cause, &parseErr) {
		reason = parseErr.Error()
	}

	if err := c.imports.MarkFailed(ctx, importID, reason); err != nil {
		log.Error("не удалось записать статус failed", "error", err)
	}
	importsCompletedTotal.WithLabelValues(model.ImportStatusFailed).Inc()
}

// countRecords собирает итоговые счетчики импорта.
func countRecords(records []*model.Record) model.ImportCounts {
	counts := model.ImportCounts{Total: len(records)}
	for _, rec := range records {
		if rec.Status == model.RecordStatusValid {
			counts.Processed++
		} else {
			counts.Failed++
		}
	}
	return counts
}

// ingest.go — сервис приема загрузок: дедупликация по хэшу содержимого,
// резервирование импорта и постановка задания в очередь конвейера.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/parser"
	"github.com/bigkaa/dataimport/internal/pipeline"
	"github.com/bigkaa/dataimport/internal/repository"
)

// Ошибки сервисного слоя.
var (
	// ErrQueueSaturated — очередь планировщика заполнена, загрузку
	// следует повторить позже.
	ErrQueueSaturated = errors.New("очередь обработки заполнена")
	// ErrNotFound — импорт не найден.
	ErrNotFound = errors.New("импорт не найден")
)

// JobSubmitter ставит задание конвейера в очередь без блокировки.
type JobSubmitter interface {
	Submit(job pipeline.Job) bool
}

// UploadResult — исход приема загрузки.
type UploadResult struct {
	// ImportID — id зарезервированного или существующего импорта
	ImportID string
	// Status — "pending" для новой загрузки, "duplicate" для повторной
	Status string
	// Duplicate — файл с таким содержимым уже загружался
	Duplicate bool
}

// IngestService — прием загрузок. На пути запроса выполняются только
// ограниченные по времени операции: резервирование и постановка в очередь.
type IngestService struct {
	imports   repository.ImportRepository
	scheduler JobSubmitter
	logger    *slog.Logger
}

// NewIngestService создаёт сервис приема загрузок.
func NewIngestService(imports repository.ImportRepository, scheduler JobSubmitter, logger *slog.Logger) *IngestService {
	return &IngestService{
		imports:   imports,
		scheduler: scheduler,
		logger:    logger.With(slog.String("component", "ingest_service")),
	}
}

// Upload принимает файл: определяет формат, резервирует импорт по хэшу
// содержимого и ставит задание в очередь. Повторная загрузка того же
// содержимого возвращает существующий импорт без новой обработки.
func (s *IngestService) Upload(ctx context.Context, filename string, data []byte) (*UploadResult, error) {
	format, err := parser.DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	imp, alreadyExists, err := s.imports.Reserve(ctx, filename, contentHash)
	if err != nil {
		return nil, fmt.Errorf("резервирование импорта: %w", err)
	}

	if alreadyExists {
		s.logger.Info("повторная загрузка",
			"import_id", imp.ID,
			"filename", filename,
			"content_hash", contentHash)
		return &UploadResult{ImportID: imp.ID, Status: "duplicate", Duplicate: true}, nil
	}

	accepted := s.scheduler.Submit(pipeline.Job{
		ImportID: imp.ID,
		Filename: filename,
		Format:   format,
		Data:     data,
	})
	if !accepted {
		// Снимаем резервирование, иначе хэш останется занят
		// импортом, который никогда не будет обработан
		if delErr := s.imports.Delete(ctx, imp.ID); delErr != nil && !errors.Is(delErr, repository.ErrNotFound) {
			s.logger.Error("не удалось снять резервирование отклоненного импорта",
				"import_id", imp.ID, "error", delErr)
		}
		s.logger.Warn("загрузка отклонена: очередь заполнена",
			"filename", filename, "content_hash", contentHash)
		return nil, ErrQueueSaturated
	}

	s.logger.Info("загрузка принята",
		"import_id", imp.ID,
		"filename", filename,
		"size", len(data))

	return &UploadResult{ImportID: imp.ID, Status: model.ImportStatusPending}, nil
}

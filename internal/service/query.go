// query.go — сервис чтения: списки импортов, детали с записями,
// поиск записей и агрегированная статистика.
// Координирует repository, LRU cache и Prometheus-метрики.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/repository"
)

// Prometheus-метрики запросов чтения.
var (
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "di_record_search_total",
		Help: "Общее количество поисковых запросов по записям.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "di_record_search_duration_seconds",
		Help:    "Длительность поисковых запросов по записям.",
		Buckets: prometheus.DefBuckets,
	})
)

// ImportListResult — страница списка импортов.
type ImportListResult struct {
	// Items — импорты со счетчиками записей
	Items []*repository.ImportWithCount
	// Total — общее количество импортов
	Total int
	// Page — номер страницы (с 1)
	Page int
	// PageSize — размер страницы после ограничения
	PageSize int
}

// ImportDetail — импорт с постраничным списком его записей.
type ImportDetail struct {
	Import       *model.Import
	Records      []*model.Record
	TotalRecords int64
	Page         int
	PageSize     int
}

// RecordSearchResult — результат поиска записей.
type RecordSearchResult struct {
	Items  []*model.Record
	Total  int64
	Limit  int
	Offset int
}

// QueryService — сервис чтения реестра импортов и записей.
type QueryService struct {
	imports repository.ImportRepository
	records repository.RecordRepository
	cache   *CacheService
	logger  *slog.Logger

	maxPageSize     int
	defaultPageSize int
}

// NewQueryService создаёт сервис чтения.
func NewQueryService(
	imports repository.ImportRepository,
	records repository.RecordRepository,
	cache *CacheService,
	maxPageSize, defaultPageSize int,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		imports:         imports,
		records:         records,
		cache:           cache,
		maxPageSize:     maxPageSize,
		defaultPageSize: defaultPageSize,
		logger:          logger.With(slog.String("component", "query_service")),
	}
}

// clampPage нормализует номер страницы и размер страницы.
// Размер ограничивается максимумом независимо от запрошенного значения.
func (s *QueryService) clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	return page, pageSize
}

// ListImports возвращает страницу импортов со счетчиками записей.
// Счетчики вычисляются одним агрегатным запросом.
func (s *QueryService) ListImports(ctx context.Context, page, pageSize int) (*ImportListResult, error) {
	page, pageSize = s.clampPage(page, pageSize)

	items, total, err := s.imports.List(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("список импортов: %w", err)
	}

	return &ImportListResult{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetImport возвращает импорт с постраничным списком его записей.
// Терминальные импорты читаются через LRU-кэш.
func (s *QueryService) GetImport(ctx context.Context, id string, page, pageSize int) (*ImportDetail, error) {
	page, pageSize = s.clampPage(page, pageSize)

	imp, ok := s.cache.Get(id)
	if !ok {
		var err error
		imp, err = s.imports.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("получение импорта: %w", err)
		}
		s.cache.Set(imp)
	}

	records, total, err := s.records.ListByImport(ctx, id, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("записи импорта: %w", err)
	}

	return &ImportDetail{
		Import:       imp,
		Records:      records,
		TotalRecords: total,
		Page:         page,
		PageSize:     pageSize,
	}, nil
}

// SearchRecords выполняет поиск записей по фильтрам import_id/status.
// limit/offset ограничиваются; все значения уходят в запрос связанными
// параметрами.
func (s *QueryService) SearchRecords(ctx context.Context, params repository.RecordSearchParams) (*RecordSearchResult, error) {
	start := time.Now()
	searchTotal.Inc()

	if params.Limit < 1 {
		params.Limit = s.defaultPageSize
	}
	if params.Limit > s.maxPageSize {
		params.Limit = s.maxPageSize
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	items, total, err := s.records.Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("поиск записей: %w", err)
	}

	searchDuration.Observe(time.Since(start).Seconds())

	return &RecordSearchResult{
		Items:  items,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}

// Stats возвращает агрегированную статистику по реестру.
func (s *QueryService) Stats(ctx context.Context) (*repository.Stats, error) {
	stats, err := s.imports.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("статистика: %w", err)
	}
	return stats, nil
}

// DeleteImport удаляет импорт вместе с записями одной транзакцией
// и инвалидирует кэш.
func (s *QueryService) DeleteImport(ctx context.Context, id string) error {
	if err := s.imports.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление импорта: %w", err)
	}

	s.cache.Delete(id)
	s.logger.Info("импорт удален", "import_id", id)
	return nil
}

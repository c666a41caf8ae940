// handler.go — основной обработчик API Data Import.
// Объединяет health и бизнес-обработчики, регистрирует маршруты.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/dataimport/internal/api/errors"
	"github.com/bigkaa/dataimport/internal/service"
)

// APIHandler — основной обработчик API Data Import.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	ingest *service.IngestService
	query  *service.QueryService
	health *HealthHandler

	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	ingest *service.IngestService,
	query *service.QueryService,
	health *HealthHandler,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		ingest:        ingest,
		query:         query,
		health:        health,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты API на переданном роутере.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/imports", h.UploadImport)
		r.Get("/imports", h.ListImports)
		r.Get("/imports/{import_id}", h.GetImport)
		r.Delete("/imports/{import_id}", h.DeleteImport)
		r.Post("/records/search", h.SearchRecords)
		r.Get("/stats", h.GetStats)
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// queryInt читает целочисленный query-параметр.
// Отсутствие параметра возвращает defaultVal; нечисловое значение — ошибку.
func queryInt(r *http.Request, name string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(raw)
}

// pagination читает параметры page/page_size.
// Значения нормализуются в сервисном слое, здесь только разбор.
func pagination(r *http.Request) (page, pageSize int, ok bool) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return 0, 0, false
	}
	pageSize, err = queryInt(r, "page_size", 0)
	if err != nil {
		return 0, 0, false
	}
	return page, pageSize, true
}

// badPagination — стандартный ответ на нечисловые параметры пагинации.
func badPagination(w http.ResponseWriter) {
	errors.ValidationError(w, "параметры page и page_size должны быть целыми числами")
}

// imports.go — обработчики загрузки и чтения импортов.
package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/dataimport/internal/api/errors"
	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/parser"
	"github.com/bigkaa/dataimport/internal/service"
)

// uploadResponse — ответ на принятую или повторную загрузку.
type uploadResponse struct {
	ImportID string `json:"import_id"`
	Status   string `json:"status"`
}

// importResponse — представление импорта в API.
type importResponse struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	Status           string     `json:"status"`
	TotalRecords     int        `json:"total_records"`
	ProcessedRecords int        `json:"processed_records"`
	FailedRecords    int        `json:"failed_records"`
	RecordCount      *int64     `json:"record_count,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// importListResponse — страница списка импортов.
type importListResponse struct {
	Items    []importResponse `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// importDetailResponse — импорт с постраничным списком записей.
type importDetailResponse struct {
	importResponse
	Records      []recordResponse `json:"records"`
	TotalRecords int64            `json:"records_total"`
	Page         int              `json:"page"`
	PageSize     int              `json:"page_size"`
}

// toImportResponse преобразует доменную модель в представление API.
func toImportResponse(imp *model.Import) importResponse {
	return importResponse{
		ID:               imp.ID,
		Filename:         imp.Filename,
		Status:           imp.Status,
		TotalRecords:     imp.TotalRecords,
		ProcessedRecords: imp.ProcessedRecords,
		FailedRecords:    imp.FailedRecords,
		ErrorMessage:     imp.ErrorMessage,
		CreatedAt:        imp.CreatedAt,
		CompletedAt:      imp.CompletedAt,
	}
}

// UploadImport — POST /api/v1/imports. Принимает файл в multipart-поле
// "file". Ответы: 202 принято, 200 дубликат, 400 формат,
// 413 превышен размер, 429 очередь заполнена, 503 хранилище недоступно.
func (h *APIHandler) UploadImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			errors.PayloadTooLarge(w, "файл превышает допустимый размер")
			return
		}
		errors.ValidationError(w, "ожидается multipart-поле file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			errors.PayloadTooLarge(w, "файл превышает допустимый размер")
			return
		}
		errors.InternalError(w, "не удалось прочитать файл")
		return
	}

	res, err := h.ingest.Upload(r.Context(), header.Filename, data)
	if err != nil {
		switch {
		case stderrors.Is(err, parser.ErrUnsupportedFormat):
			errors.UnsupportedFormat(w, err.Error())
		case stderrors.Is(err, service.ErrQueueSaturated):
			errors.QueueSaturated(w, "очередь обработки заполнена, повторите позже")
		default:
			h.logger.Error("ошибка приема загрузки", "filename", header.Filename, "error", err)
			errors.StorageUnavailable(w, "хранилище временно недоступно")
		}
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{ImportID: res.ImportID, Status: res.Status})
}

// ListImports — GET /api/v1/imports?page=&page_size=.
func (h *APIHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	page, pageSize, ok := pagination(r)
	if !ok {
		badPagination(w)
		return
	}

	res, err := h.query.ListImports(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("ошибка списка импортов", "error", err)
		errors.InternalError(w, "не удалось получить список импортов")
		return
	}

	items := make([]importResponse, 0, len(res.Items))
	for _, item := range res.Items {
		ir := toImportResponse(&item.Import)
		count := item.RecordCount
		ir.RecordCount = &count
		items = append(items, ir)
	}

	writeJSON(w, http.StatusOK, importListResponse{
		Items:    items,
		Total:    res.Total,
		Page:     res.Page,
		PageSize: res.PageSize,
	})
}

// GetImport — GET /api/v1/imports/{import_id}?page=&page_size=.
// Возвращает импорт с постраничным списком его записей.
func (h *APIHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "import_id")
	if _, err := uuid.Parse(importID); err != nil {
		errors.ValidationError(w, "import_id должен быть UUID")
		return
	}

	page, pageSize, ok := pagination(r)
	if !ok {
		badPagination(w)
		return
	}

	detail, err := h.query.GetImport(r.Context(), importID, page, pageSize)
	if err != nil {
		if stderrors.Is(err, service.ErrNotFound) {
			errors.NotFound(w, "импорт не найден")
			return
		}
		h.logger.Error("ошибка получения импорта", "import_id", importID, "error", err)
		errors.InternalError(w, "не удалось получить импорт")
		return
	}

	records := make([]recordResponse, 0, len(detail.Records))
	for _, rec := range detail.Records {
		records = append(records, toRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, importDetailResponse{
		importResponse: toImportResponse(detail.Import),
		Records:        records,
		TotalRecords:   detail.TotalRecords,
		Page:           detail.Page,
		PageSize:       detail.PageSize,
	})
}

// DeleteImport — DELETE /api/v1/imports/{import_id}.
// Удаляет импорт вместе с записями одной транзакцией. 204 или 404.
func (h *APIHandler) DeleteImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "import_id")
	if _, err := uuid.Parse(importID); err != nil {
		errors.ValidationError(w, "import_id должен быть UUID")
		return
	}

	if err := h.query.DeleteImport(r.Context(), importID); err != nil {
		if stderrors.Is(err, service.ErrNotFound) {
			errors.NotFound(w, "импорт не найден")
			return
		}
		h.logger.Error("ошибка удаления импорта", "import_id", importID, "error", err)
		errors.InternalError(w, "не удалось удалить импорт")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// statsResponse — агрегированная статистика реестра.
type statsResponse struct {
	TotalImports         int              `json:"total_imports"`
	ImportsByStatus      map[string]int   `json:"imports_by_status"`
	TotalRecords         int64            `json:"total_records"`
	RecordsByStatus      map[string]int64 `json:"records_by_status"`
	AvgProcessingSeconds float64          `json:"avg_processing_seconds"`
}

// GetStats — GET /api/v1/stats. Агрегаты вычисляются в хранилище.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.Stats(r.Context())
	if err != nil {
		h.logger.Error("ошибка получения статистики", "error", err)
		errors.InternalError(w, "не удалось получить статистику")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalImports:         stats.TotalImports,
		ImportsByStatus:      stats.ImportsByStatus,
		TotalRecords:         stats.TotalRecords,
		RecordsByStatus:      stats.RecordsByStatus,
		AvgProcessingSeconds: stats.AvgProcessingSeconds,
	})
}

// records.go — обработчик поиска записей.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/dataimport/internal/api/errors"
	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/repository"
)

// recordResponse — представление записи в API.
// Data — исходное отображение записи как есть.
type recordResponse struct {
	ID           int64           `json:"id"`
	ImportID     string          `json:"import_id"`
	Data         json.RawMessage `json:"data"`
	Embedding    []float32       `json:"embedding,omitempty"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// toRecordResponse преобразует доменную модель в представление API.
func toRecordResponse(rec *model.Record) recordResponse {
	return recordResponse{
		ID:           rec.ID,
		ImportID:     rec.ImportID,
		Data:         json.RawMessage(rec.RawData),
		Embedding:    rec.Embedding,
		Status:       rec.Status,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
	}
}

// recordSearchRequest — тело запроса поиска записей.
// limit/offset строго целочисленные: строковые значения отклоняются
// на этапе десериализации.
type recordSearchRequest struct {
	ImportID *string `json:"import_id"`
	Status   *string `json:"status"`
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
}

// recordSearchResponse — результат поиска записей.
type recordSearchResponse struct {
	Items  []recordResponse `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// SearchRecords — POST /api/v1/records/search.
// Все фильтры и limit/offset уходят в запрос связанными параметрами.
func (h *APIHandler) SearchRecords(w http.ResponseWriter, r *http.Request) {
	var req recordSearchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		errors.ValidationError(w, "некорректное тело запроса: "+err.Error())
		return
	}

	if req.ImportID != nil {
		if _, err := uuid.Parse(*req.ImportID); err != nil {
			errors.ValidationError(w, "import_id должен быть UUID")
			return
		}
	}
	if req.Status != nil {
		switch *req.Status {
		case model.RecordStatusValid, model.RecordStatusInvalid, model.RecordStatusError:
		default:
			errors.ValidationError(w, "status должен быть одним из: valid, invalid, error")
			return
		}
	}

	res, err := h.query.SearchRecords(r.Context(), repository.RecordSearchParams{
		ImportID: req.ImportID,
		Status:   req.Status,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		h.logger.Error("ошибка поиска записей", "error", err)
		errors.InternalError(w, "не удалось выполнить поиск записей")
		return
	}

	items := make([]recordResponse, 0, len(res.Items))
	for _, rec := range res.Items {
		items = append(items, toRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, recordSearchResponse{
		Items:  items,
		Total:  res.Total,
		Limit:  res.Limit,
		Offset: res.Offset,
	})
}

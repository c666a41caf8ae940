package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dataimport/internal/domain/model"
)

// recordColumns — список столбцов таблицы records для SELECT-запросов.
const recordColumns = `id, import_id, raw_data, embedding, status, error_message, created_at`

// RecordSearchParams — параметры поиска записей.
// Все поля-фильтры — указатели, nil = фильтр не применяется.
type RecordSearchParams struct {
	// ImportID — фильтр по UUID импорта
	ImportID *string
	// Status — фильтр по статусу записи (valid/invalid/error)
	Status *string
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// RecordRepository — движок батч-сохранения и доступ к записям.
type RecordRepository interface {
	// InsertBatch сохраняет записи импорта чанками фиксированного размера,
	// одна транзакция на чанк, с сохранением входного порядка.
	// Сбой чанка откатывает только этот чанк и повторяется один раз;
	// повторный сбой прерывает запись — ранее закоммиченные чанки
	// остаются (счётчики импорта финализируются только после всех чанков).
	InsertBatch(ctx context.Context, importID string, records []*model.Record, chunkSize int) error
	// ListByImport возвращает страницу записей импорта в порядке вставки
	// и общее количество записей импорта.
	ListByImport(ctx context.Context, importID string, limit, offset int) ([]*model.Record, int64, error)
	// Search выполняет поиск записей по фильтрам.
	// Все значения фильтров и limit/offset — связанные параметры.
	Search(ctx context.Context, params RecordSearchParams) ([]*model.Record, int64, error)
}

// recordRepo — реализация RecordRepository через pgx.
type recordRepo struct {
	db DBTX
	tx *TxRunner
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX, tx *TxRunner) RecordRepository {
	return &recordRepo{db: db, tx: tx}
}

// chunkInsertAttempts — попытки записи одного чанка (1 + один повтор).
const chunkInsertAttempts = 2

func (r *recordRepo) InsertBatch(ctx context.Context, importID string, records []*model.Record, chunkSize int) error {
	if chunkSize < 1 {
		return fmt.Errorf("некорректный размер чанка: %d", chunkSize)
	}

	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		var lastErr error
		for attempt := 1; attempt <= chunkInsertAttempts; attempt++ {
			lastErr = r.insertChunk(ctx, importID, chunk)
			if lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			return fmt.Errorf("ошибка записи чанка [%d:%d]: %w", start, end, lastErr)
		}
	}

	return nil
}

// insertChunk записывает один чанк в одной транзакции.
// pgx.Batch выполняет INSERT'ы в порядке добавления, что сохраняет
// порядок входных данных (bigserial id монотонен внутри транзакции).
func (r *recordRepo) insertChunk(ctx context.Context, importID string, chunk []*model.Record) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range chunk {
			batch.Queue(
				`INSERT INTO records (import_id, raw_data, embedding, status, error_message)
				 VALUES ($1, $2, $3, $4, $5)`,
				importID, string(rec.RawData), rec.Embedding, rec.Status, rec.ErrorMessage,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range chunk {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("ошибка вставки записи: %w", err)
			}
		}
		return nil
	})
}

func (r *recordRepo) ListByImport(ctx context.Context, importID string, limit, offset int) ([]*model.Record, int64, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE import_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, importID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения записей импорта: %w", err)
	}
	defer rows.Close()

	result, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM records WHERE import_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, importID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей импорта: %w", err)
	}

	return result, total, nil
}

func (r *recordRepo) Search(ctx context.Context, params RecordSearchParams) ([]*model.Record, int64, error) {
	where, args := buildRecordWhere(params, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(
		`SELECT %s FROM records %s ORDER BY id LIMIT $%d OFFSET $%d`,
		recordColumns, where, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска записей: %w", err)
	}
	defer rows.Close()

	result, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}

	// Общее количество с теми же фильтрами, без LIMIT/OFFSET
	countWhere, countArgs := buildRecordWhere(params, 1)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM records %s`, countWhere)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}

	return result, total, nil
}

// buildRecordWhere строит WHERE-условие и аргументы для поиска записей.
// startArg — номер первого $-параметра (для корректной нумерации).
func buildRecordWhere(params RecordSearchParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if params.ImportID != nil && *params.ImportID != "" {
		conditions = append(conditions, fmt.Sprintf("import_id = $%d", argNum))
		args = append(args, *params.ImportID)
		argNum++
	}

	if params.Status != nil && *params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *params.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// scanRecords сканирует результат выборки в срез model.Record.
func scanRecords(rows pgx.Rows) ([]*model.Record, error) {
	var result []*model.Record
	for rows.Next() {
		rec := &model.Record{}
		if err := rows.Scan(
			&rec.ID, &rec.ImportID, &rec.RawData, &rec.Embedding,
			&rec.Status, &rec.ErrorMessage, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dataimport/internal/domain/model"
)

// importColumns — список столбцов таблицы imports для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const importColumns = `id, filename, content_hash, status, error_message,
	total_records, processed_records, failed_records, created_at, completed_at`

// ImportWithCount — импорт вместе с фактическим числом записей в таблице records.
// Счётчик считается агрегатным JOIN'ом, а не отдельным запросом на импорт.
type ImportWithCount struct {
	model.Import
	// RecordCount — число сохранённых записей (может отставать от
	// total_records, пока импорт обрабатывается)
	RecordCount int64
}

// Stats — агрегатная статистика по импортам и записям.
type Stats struct {
	TotalImports         int
	ImportsByStatus      map[string]int
	TotalRecords         int64
	RecordsByStatus      map[string]int64
	AvgProcessingSeconds float64
}

// ImportRepository — реестр импортов: атомарное резервирование по
// content_hash, переходы статусов, списки и агрегаты.
type ImportRepository interface {
	// Reserve атомарно резервирует импорт для content_hash.
	// Ровно один из конкурентных вызовов с одинаковым хэшем создаёт
	// новый pending-импорт; остальные получают существующий и
	// alreadyExists = true. Реализовано одним INSERT ... ON CONFLICT
	// по частичному уникальному индексу, не парой чтение-запись.
	Reserve(ctx context.Context, filename, contentHash string) (imp *model.Import, alreadyExists bool, err error)
	// MarkProcessing переводит импорт pending → processing.
	MarkProcessing(ctx context.Context, id string) error
	// Finalize одной транзакцией записывает финальный статус completed
	// и итоговые счётчики. Выполняется только после коммита всех чанков.
	Finalize(ctx context.Context, id string, counts model.ImportCounts) error
	// MarkFailed переводит импорт в терминальный статус failed с описанием причины.
	MarkFailed(ctx context.Context, id string, reason string) error
	// GetByID возвращает импорт по UUID или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.Import, error)
	// List возвращает страницу импортов (новые первыми) с числом записей
	// и общее количество импортов. Счётчики записей — один JOIN/GROUP BY.
	List(ctx context.Context, limit, offset int) ([]*ImportWithCount, int, error)
	// Delete удаляет импорт и все его записи одной транзакцией:
	// сначала records, затем imports. Либо обе операции, либо ни одной.
	Delete(ctx context.Context, id string) error
	// Stats возвращает агрегатную статистику без вычитывания строк в память.
	Stats(ctx context.Context) (*Stats, error)
}

// importRepo — реализация ImportRepository через pgx.
type importRepo struct {
	db DBTX
	tx *TxRunner
}

// NewImportRepository создаёт реестр импортов.
func NewImportRepository(db DBTX, tx *TxRunner) ImportRepository {
	return &importRepo{db: db, tx: tx}
}

// reserveAttempts — число попыток insert-or-fetch при гонке
// с одновременным удалением существующего импорта.
const reserveAttempts = 2

func (r *importRepo) Reserve(ctx context.Context, filename, contentHash string) (*model.Import, bool, error) {
	insertQuery := `
		INSERT INTO imports (id, filename, content_hash, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (content_hash) WHERE status <> 'failed' DO NOTHING
		RETURNING ` + importColumns

	fetchQuery := `
		SELECT ` + importColumns + `
		FROM imports
		WHERE content_hash = $1 AND status <> 'failed'
		ORDER BY created_at
		LIMIT 1`

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		imp := &model.Import{}
		err := scanImport(r.db.QueryRow(ctx, insertQuery, uuid.New().String(), filename, contentHash), imp)
		if err == nil {
			return imp, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("ошибка резервирования импорта: %w", err)
		}

		// Конфликт по хэшу — забираем существующий импорт
		imp = &model.Import{}
		err = scanImport(r.db.QueryRow(ctx, fetchQuery, contentHash), imp)
		if err == nil {
			return imp, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("ошибка получения существующего импорта: %w", err)
		}
		// Существующий импорт удалили между INSERT и SELECT — повторяем INSERT
	}

	return nil, false, fmt.Errorf("резервирование импорта: не удалось за %d попытки", reserveAttempts)
}

func (r *importRepo) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE imports
		SET status = 'processing'
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ошибка перевода импорта в processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *importRepo) Finalize(ctx context.Context, id string, counts model.ImportCounts) error {
	query := `
		UPDATE imports
		SET status = 'completed',
			total_records = $2,
			processed_records = $3,
			failed_records = $4,
			completed_at = now()
		WHERE id = $1 AND status = 'processing'`

	tag, err := r.db.Exec(ctx, query, id, counts.Total, counts.Processed, counts.Failed)
	if err != nil {
		return fmt.Errorf("ошибка финализации импорта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *importRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	// Переход только из нетерминальных статусов — терминальные не пересматриваются
	query := `
		UPDATE imports
		SET status = 'failed',
			error_message = $2,
			completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`

	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("ошибка пометки импорта как failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *importRepo) GetByID(ctx context.Context, id string) (*model.Import, error) {
	query := `SELECT ` + importColumns + ` FROM imports WHERE id = $1`

	imp := &model.Import{}
	err := scanImport(r.db.QueryRow(ctx, query, id), imp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения импорта: %w", err)
	}
	return imp, nil
}

func (r *importRepo) List(ctx context.Context, limit, offset int) ([]*ImportWithCount, int, error) {
	query := `
		SELECT i.id, i.filename, i.content_hash, i.status, i.error_message,
			i.total_records, i.processed_records, i.failed_records,
			i.created_at, i.completed_at,
			COUNT(r.id) AS record_count
		FROM imports i
		LEFT JOIN records r ON r.import_id = i.id
		GROUP BY i.id
		ORDER BY i.created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка импортов: %w", err)
	}
	defer rows.Close()

	var result []*ImportWithCount
	for rows.Next() {
		iwc := &ImportWithCount{}
		if err := rows.Scan(
			&iwc.ID, &iwc.Filename, &iwc.ContentHash, &iwc.Status, &iwc.ErrorMessage,
			&iwc.TotalRecords, &iwc.ProcessedRecords, &iwc.FailedRecords,
			&iwc.CreatedAt, &iwc.CompletedAt,
			&iwc.RecordCount,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования импорта: %w", err)
		}
		result = append(result, iwc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM imports`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта импортов: %w", err)
	}

	return result, total, nil
}

func (r *importRepo) Delete(ctx context.Context, id string) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		// Сначала записи, затем импорт — обратный порядок создания
		if _, err := tx.Exec(ctx, `DELETE FROM records WHERE import_id = $1`, id); err != nil {
			return fmt.Errorf("ошибка удаления записей импорта: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM imports WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("ошибка удаления импорта: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *importRepo) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ImportsByStatus: make(map[string]int),
		RecordsByStatus: make(map[string]int64),
	}

	// Импорты: общее число и разбивка по статусам одним GROUP BY
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM imports GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации импортов: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ошибка сканирования агрегата импортов: %w", err)
		}
		stats.ImportsByStatus[status] = count
		stats.TotalImports += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации агрегата импортов: %w", err)
	}

	// Записи: общее число и разбивка по статусам одним GROUP BY
	rows, err = r.db.Query(ctx, `SELECT status, COUNT(*) FROM records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации записей: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ошибка сканирования агрегата записей: %w", err)
		}
		stats.RecordsByStatus[status] = count
		stats.TotalRecords += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации агрегата записей: %w", err)
	}

	// Среднее время обработки завершённых импортов
	avgQuery := `
		SELECT COALESCE(EXTRACT(EPOCH FROM AVG(completed_at - created_at)), 0)
		FROM imports
		WHERE status = 'completed' AND completed_at IS NOT NULL`
	if err := r.db.QueryRow(ctx, avgQuery).Scan(&stats.AvgProcessingSeconds); err != nil {
		return nil, fmt.Errorf("ошибка вычисления среднего времени обработки: %w", err)
	}

	return stats, nil
}

// scanImport сканирует строку imports в model.Import.
func scanImport(row pgx.Row, imp *model.Import) error {
	return row.Scan(
		&imp.ID, &imp.Filename, &imp.ContentHash, &imp.Status, &imp.ErrorMessage,
		&imp.TotalRecords, &imp.ProcessedRecords, &imp.FailedRecords,
		&imp.CreatedAt, &imp.CompletedAt,
	)
}

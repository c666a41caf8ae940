// Пакет model — доменные модели Data Import Module.
package model

import "time"

// Статусы импорта. Переходы только вперёд:
// pending → processing → completed | failed.
const (
	ImportStatusPending    = "pending"
	ImportStatusProcessing = "processing"
	ImportStatusCompleted  = "completed"
	ImportStatusFailed     = "failed"
)

// Import — одна единица загрузки: один загруженный файл.
// Запись создаётся Registry при резервировании (status = pending),
// дальнейшие изменения статуса и счётчиков выполняет координатор.
type Import struct {
	// ID — UUID импорта, присваивается при резервировании
	ID string
	// Filename — оригинальное имя загруженного файла
	Filename string
	// ContentHash — sha256 содержимого файла (hex); обеспечивает дедупликацию
	ContentHash string
	// Status — pending / processing / completed / failed
	Status string
	// ErrorMessage — описание фатальной ошибки (только при status = failed)
	ErrorMessage *string
	// TotalRecords — общее число распознанных записей
	TotalRecords int
	// ProcessedRecords — число записей со статусом valid
	ProcessedRecords int
	// FailedRecords — число записей invalid или error
	FailedRecords int
	// CreatedAt — момент резервирования
	CreatedAt time.Time
	// CompletedAt — момент перехода в терминальный статус (nil до него)
	CompletedAt *time.Time
}

// Terminal сообщает, находится ли импорт в терминальном статусе.
// Терминальные записи неизменяемы — их можно кэшировать.
func (i *Import) Terminal() bool {
	return i.Status == ImportStatusCompleted || i.Status == ImportStatusFailed
}

// ImportCounts — итоговые счётчики импорта, записываются одной
// транзакцией вместе с финальным статусом.
type ImportCounts struct {
	Total     int
	Processed int
	Failed    int
}

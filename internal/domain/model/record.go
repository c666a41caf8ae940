package model

import "time"

// Статусы записи. Запись после сохранения не изменяется.
const (
	// RecordStatusValid — запись прошла валидацию
	RecordStatusValid = "valid"
	// RecordStatusInvalid — запись отклонена правилами валидации
	RecordStatusInvalid = "invalid"
	// RecordStatusError — запись не удалось обработать (ошибка сериализации и т.п.)
	RecordStatusError = "error"
)

// Record — одна распознанная запись внутри импорта.
// Создаётся только внутри батч-транзакции, удаляется только
// каскадно вместе с импортом.
type Record struct {
	// ID — порядковый идентификатор (bigserial), сохраняет порядок входных данных
	ID int64
	// ImportID — UUID родительского импорта
	ImportID string
	// RawData — исходное поле-отображение записи, сериализованное в JSON
	RawData []byte
	// Embedding — вектор эмбеддинга; nil, если эмбеддинги отключены
	// или генерация для батча деградировала
	Embedding []float32
	// Status — valid / invalid / error
	Status string
	// ErrorMessage — описание причины отклонения или мягкое предупреждение
	ErrorMessage *string
	// CreatedAt — момент сохранения
	CreatedAt time.Time
}

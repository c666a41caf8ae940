// Пакет embedding — клиент векторизации текста.
// Конвейеру нужен только контракт пакетного запроса: упорядоченный
// список текстов на входе, упорядоченный список векторов на выходе.
package embedding

import "context"

// Embedder — пакетный клиент векторизации. Реализации должны быть
// безопасны для конкурентного использования.
type Embedder interface {
	// EmbedBatch выполняет один сетевой вызов на пакет. Возвращаемый
	// список векторов имеет ту же длину и порядок, что и texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

package embedding

import (
	"context"
	"hash/fnv"
)

// MockEmbedder — детерминированная заглушка Embedder для тестов.
// Поведение переопределяется через EmbedBatchFunc.
type MockEmbedder struct {
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

	calls int
}

// NewMock создает заглушку с детерминированным поведением по умолчанию.
func NewMock() *MockEmbedder {
	return &MockEmbedder{}
}

// EmbedBatch возвращает детерминированные векторы по хэшу текста.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++

	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = deterministicVector(text, 8)
	}
	return vectors, nil
}

// Calls возвращает число выполненных вызовов.
func (m *MockEmbedder) Calls() int {
	return m.calls
}

// deterministicVector строит вектор из FNV-хэша текста: одинаковый
// текст всегда дает одинаковый вектор.
func deterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := range vector {
		seed = seed*1664525 + 1013904223
		vector[i] = float32(seed%1000) / 1000.0
	}
	return vector
}

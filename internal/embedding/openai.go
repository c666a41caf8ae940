package embedding

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEmbedder — реализация Embedder поверх OpenAI-совместимого API.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewOpenAI создает клиент векторизации для OpenAI-совместимого сервиса.
// Для локальных сервисов без аутентификации используется токен-заглушка.
func NewOpenAI(host, model string, logger *slog.Logger) (*OpenAIEmbedder, error) {
	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &OpenAIEmbedder{
		embedder: embedder,
		logger:   logger.With("component", "openai-embedder"),
	}, nil
}

// EmbedBatch векторизует пакет текстов одним вызовом API.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("векторизация пакета текстов", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("не удалось векторизовать пакет", "count", len(texts), "error", err)
		return nil, err
	}

	return vectors, nil
}

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ model string }

func (s *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (s *stubProvider) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (s *stubProvider) Chat(_ context.Context, _ []Message) (string, error) { return "ok", nil }

func (s *stubProvider) Generate(_ context.Context, _, _ string) (string, error) { return "ok", nil }

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Model() string { return s.model }

func TestRegistry(t *testing.T) {
	RegisterProvider("stub", func(cfg map[string]any) (Provider, error) {
		c := ParseConfig(cfg, Config{EmbedModel: "default-model"})
		return &stubProvider{model: c.EmbedModel}, nil
	})

	emb, err := NewEmbeddingProvider("stub", map[string]any{"embed_model": "mini"})
	require.NoError(t, err)
	assert.Equal(t, "mini", EmbeddingModel(emb))

	chat, err := NewChatProvider("stub", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub", chat.Name())

	_, err = NewEmbeddingProvider("missing", nil)
	assert.Error(t, err)
	assert.Contains(t, ListProviders(), "stub")
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig(map[string]any{
		"base_url":    "http://x",
		"timeout":     5 * time.Second,
		"max_retries": 0,
		"chat_model":  "",
	}, Config{ChatModel: "keep", MaxRetries: 3, Timeout: time.Minute})

	assert.Equal(t, "http://x", cfg.BaseURL)
	assert.Equal(t, "keep", cfg.ChatModel)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "", EmbeddingModel(nil))
}

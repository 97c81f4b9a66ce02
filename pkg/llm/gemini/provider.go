// Package gemini 提供 Google Gemini 供应商实现，默认用于答案生成。
package gemini

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kart-io/kgrag/pkg/llm"
	"github.com/kart-io/kgrag/pkg/utils/httpclient"
)

// ProviderName 是 Gemini 供应商的名称标识符。
const ProviderName = "gemini"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// DefaultConfig 返回默认配置。
func DefaultConfig() llm.Config {
	return llm.Config{
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		EmbedModel: "text-embedding-004",
		ChatModel:  "gemini-2.0-flash",
		Timeout:    60 * time.Second,
		MaxRetries: 2,
	}
}

// Provider Gemini 供应商实现。
type Provider struct {
	config llm.Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建 Gemini 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	cfg := llm.ParseConfig(configMap, DefaultConfig())
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api_key is required")
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 Gemini 供应商。
func NewProviderWithConfig(cfg llm.Config) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.MaxRetries),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string { return ProviderName }

// Model 返回 Embedding 模型名称。
func (p *Provider) Model() string { return p.config.EmbedModel }

func (p *Provider) endpoint(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s", p.config.BaseURL, model, method, url.QueryEscape(p.config.APIKey))
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type embedContentRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Embed 通过 batchEmbedContents 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := batchEmbedRequest{Requests: make([]embedContentRequest, len(texts))}
	for i, text := range texts {
		req.Requests[i] = embedContentRequest{
			Model:   "models/" + p.config.EmbedModel,
			Content: content{Parts: []part{{Text: text}}},
		}
	}

	var resp batchEmbedResponse
	if err := p.client.PostJSON(ctx, p.endpoint(p.config.EmbedModel, "batchEmbedContents"), nil, req, &resp); err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: expected %d vectors, got %d", len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// Chat 进行多轮对话。assistant 角色映射为 Gemini 的 model 角色。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	req := generateRequest{
		GenerationConfig: &generationConfig{Temperature: 0.2, MaxOutputTokens: 2048},
	}
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			req.SystemInstruction = &content{Parts: []part{{Text: msg.Content}}}
		case llm.RoleAssistant:
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}

	var resp generateResponse
	if err := p.client.PostJSON(ctx, p.endpoint(p.config.ChatModel, "generateContent"), nil, req, &resp); err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini generate: no candidates")
	}

	var sb strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	return sb.String(), nil
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return p.Chat(ctx, llm.BuildMessages(prompt, systemPrompt))
}

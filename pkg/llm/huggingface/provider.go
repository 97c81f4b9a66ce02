// Package huggingface 提供 HuggingFace Inference API 供应商实现。
// 默认 Embedding 模型与离线索引一致：sentence-transformers/all-MiniLM-L6-v2。
package huggingface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/kgrag/pkg/llm"
	"github.com/kart-io/kgrag/pkg/utils/httpclient"
	"github.com/kart-io/kgrag/pkg/utils/json"
)

// ProviderName 是 HuggingFace 供应商的名称标识符。
const ProviderName = "huggingface"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// DefaultConfig 返回默认配置。
func DefaultConfig() llm.Config {
	return llm.Config{
		BaseURL:    "https://api-inference.huggingface.co",
		EmbedModel: "sentence-transformers/all-MiniLM-L6-v2",
		ChatModel:  "mistralai/Mistral-7B-Instruct-v0.3",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// Provider HuggingFace 供应商实现。
type Provider struct {
	config llm.Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建 HuggingFace 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	cfg := llm.ParseConfig(configMap, DefaultConfig())
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("huggingface: api_key is required")
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 HuggingFace 供应商。
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

func (p *Provider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.config.APIKey}
}

type featureRequest struct {
	Inputs  []string       `json:"inputs"`
	Options map[string]any `json:"options,omitempty"`
}

// Embed 调用 feature-extraction 管线。句向量模型返回二维数组，
// token 级模型返回三维数组，此时按 token 取平均。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var raw json.RawMessage
	url := fmt.Sprintf("%s/pipeline/feature-extraction/%s", p.config.BaseURL, p.config.EmbedModel)
	if err := p.client.PostJSON(ctx, url, p.headers(),
		featureRequest{Inputs: texts, Options: map[string]any{"wait_for_model": true}}, &raw); err != nil {
		return nil, fmt.Errorf("huggingface embed: %w", err)
	}
	vecs, err := decodeFeatures(raw)
	if err != nil {
		return nil, fmt.Errorf("huggingface embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("huggingface embed: expected %d vectors, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

func decodeFeatures(raw []byte) ([][]float32, error) {
	var sentences [][]float32
	if err := json.Unmarshal(raw, &sentences); err == nil {
		return sentences, nil
	}

	var tokens [][][]float32
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("unexpected feature-extraction payload: %w", err)
	}
	out := make([][]float32, len(tokens))
	for i, seq := range tokens {
		if len(seq) == 0 {
			continue
		}
		mean := make([]float32, len(seq[0]))
		for _, tok := range seq {
			for j, v := range tok {
				mean[j] += v
			}
		}
		for j := range mean {
			mean[j] /= float32(len(seq))
		}
		out[i] = mean
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

type generateRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type generateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// Chat 将消息渲染为 Mistral 指令模板后生成。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Role == llm.RoleAssistant {
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
			continue
		}
		fmt.Fprintf(&sb, "[INST] %s [/INST]\n", msg.Content)
	}

	var resp []generateResponse
	url := fmt.Sprintf("%s/models/%s", p.config.BaseURL, p.config.ChatModel)
	if err := p.client.PostJSON(ctx, url, p.headers(), generateRequest{
		Inputs:     sb.String(),
		Parameters: map[string]any{"max_new_tokens": 1024, "return_full_text": false},
	}, &resp); err != nil {
		return "", fmt.Errorf("huggingface generate: %w", err)
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("huggingface generate: empty response")
	}
	return resp[0].GeneratedText, nil
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return p.Chat(ctx, llm.BuildMessages(prompt, systemPrompt))
}

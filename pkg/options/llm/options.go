// Package llm provides model provider configuration options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/kgrag/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// apiKeyEnv 各供应商读取 API 密钥的环境变量。
var apiKeyEnv = map[string][]string{
	"huggingface": {"HUGGINGFACE_API_KEY", "HF_TOKEN"},
	"gemini":      {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai":      {"OPENAI_API_KEY"},
}

// ProviderOptions 定义模型供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（huggingface, gemini, openai, ollama）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址，为空时使用供应商默认地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// CircuitBreakerFailures 连续失败多少次后熔断，0 表示不启用重试与熔断包装。
	CircuitBreakerFailures int `json:"circuit-breaker-failures" mapstructure:"circuit-breaker-failures"`
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
// 模型必须与离线建索引时使用的模型一致。
func NewEmbeddingOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:               "huggingface",
		Model:                  "sentence-transformers/all-MiniLM-L6-v2",
		Timeout:                30 * time.Second,
		MaxRetries:             2,
		CircuitBreakerFailures: 5,
	}
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:               "gemini",
		Model:                  "gemini-2.0-flash",
		Timeout:                60 * time.Second,
		MaxRetries:             2,
		CircuitBreakerFailures: 5,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"embed_model":  o.Model,
		"chat_model":   o.Model,
		"timeout":      o.Timeout,
		"max_retries":  o.MaxRetries,
		"organization": o.Organization,
	}
}

// AddFlags adds flags for provider options. The caller passes the role
// ("embedding" or "chat") as prefix.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Model provider (huggingface, gemini, openai, ollama).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL, empty for the provider default.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Provider API key.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Maximum number of HTTP retries.")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "Organization ID (openai only).")
	fs.IntVar(&o.CircuitBreakerFailures, p+"circuit-breaker-failures", o.CircuitBreakerFailures, "Consecutive failures before the circuit opens, 0 disables.")
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("provider is required"))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("model is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.MaxRetries < 0 || o.CircuitBreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("max-retries and circuit-breaker-failures must not be negative"))
	}
	return errs
}

// Complete 从环境变量补全 API 密钥。
func (o *ProviderOptions) Complete() error {
	if o.APIKey != "" {
		return nil
	}
	for _, env := range apiKeyEnv[o.Provider] {
		if v := os.Getenv(env); v != "" {
			o.APIKey = v
			break
		}
	}
	return nil
}

package llm

import "time"

// Config 是各供应商共享的基础配置，由 options 层的 ToConfigMap 生成的 map 解析而来。
type Config struct {
	BaseURL      string
	APIKey       string
	EmbedModel   string
	ChatModel    string
	Timeout      time.Duration
	MaxRetries   int
	Organization string
}

// ParseConfig 以 defaults 为基础覆盖 map 中的非零值。
func ParseConfig(m map[string]any, defaults Config) Config {
	cfg := defaults
	setString := func(key string, dst *string) {
		if v, ok := m[key].(string); ok && v != "" {
			*dst = v
		}
	}
	setString("base_url", &cfg.BaseURL)
	setString("api_key", &cfg.APIKey)
	setString("embed_model", &cfg.EmbedModel)
	setString("chat_model", &cfg.ChatModel)
	setString("organization", &cfg.Organization)

	if v, ok := m["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := m["max_retries"].(int); ok && v >= 0 {
		cfg.MaxRetries = v
	}
	return cfg
}

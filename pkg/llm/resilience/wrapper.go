package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kart-io/kgrag/pkg/llm"
	"github.com/kart-io/kgrag/pkg/utils/httpclient"
)

// IsRetryableError 判断错误是否可重试：网络错误、408、429 与 5xx 可重试，
// 熔断器打开和 context 结束不重试。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// EmbeddingProvider 带重试与熔断的 Embedding 供应商包装器。
type EmbeddingProvider struct {
	provider llm.EmbeddingProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// WrapEmbedding 包装 Embedding 供应商。
func WrapEmbedding(p llm.EmbeddingProvider, retry *RetryConfig, cb *CircuitBreaker) *EmbeddingProvider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	if cb == nil {
		cb = NewCircuitBreaker(DefaultCircuitBreakerConfig(p.Name() + "-embed"))
	}
	return &EmbeddingProvider{provider: p, retry: retry, cb: cb}
}

func (r *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return Call(ctx, r.retry, r.cb, func() ([][]float32, error) {
		return r.provider.Embed(ctx, texts)
	})
}

func (r *EmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return Call(ctx, r.retry, r.cb, func() ([]float32, error) {
		return r.provider.EmbedSingle(ctx, text)
	})
}

func (r *EmbeddingProvider) Name() string { return r.provider.Name() }

// Model 透传底层供应商的模型名称。
func (r *EmbeddingProvider) Model() string { return llm.EmbeddingModel(r.provider) }

// CircuitBreaker 返回熔断器实例。
func (r *EmbeddingProvider) CircuitBreaker() *CircuitBreaker { return r.cb }

// ChatProvider 带重试与熔断的 Chat 供应商包装器。
type ChatProvider struct {
	provider llm.ChatProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// WrapChat 包装 Chat 供应商。
func WrapChat(p llm.ChatProvider, retry *RetryConfig, cb *CircuitBreaker) *ChatProvider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	if cb == nil {
		cb = NewCircuitBreaker(DefaultCircuitBreakerConfig(p.Name() + "-chat"))
	}
	return &ChatProvider{provider: p, retry: retry, cb: cb}
}

func (r *ChatProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return Call(ctx, r.retry, r.cb, func() (string, error) {
		return r.provider.Chat(ctx, messages)
	})
}

func (r *ChatProvider) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return Call(ctx, r.retry, r.cb, func() (string, error) {
		return r.provider.Generate(ctx, prompt, systemPrompt)
	})
}

func (r *ChatProvider) Name() string { return r.provider.Name() }

// CircuitBreaker 返回熔断器实例。
func (r *ChatProvider) CircuitBreaker() *CircuitBreaker { return r.cb }

var (
	_ llm.EmbeddingProvider = (*EmbeddingProvider)(nil)
	_ llm.ChatProvider      = (*ChatProvider)(nil)
)

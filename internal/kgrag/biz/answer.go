package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/infra/tracing"
	"github.com/kart-io/kgrag/pkg/llm"
)

const (
	// AnswerInstruction 答案生成指令，要求只依据片段作答并按 [paper_id:page_num] 引用。
	AnswerInstruction = "Answer the question using ONLY the following snippets.\nAlways cite sources using [paper_id:page_num]."

	// AnswerGenerationFailed 生成失败或超时时的替代答案。
	AnswerGenerationFailed = "Error generating answer. Please try again."

	// AnswerUnavailable 生成器返回空答案时的替代答案。
	AnswerUnavailable = "Unable to generate answer"
)

// Synthesizer 根据查询和带引用的片段生成答案。
type Synthesizer interface {
	Generate(ctx context.Context, query string, snippets []string) (string, error)
}

// LLMSynthesizer 基于 Chat 供应商的答案生成器。
type LLMSynthesizer struct {
	chat llm.ChatProvider
}

var _ Synthesizer = (*LLMSynthesizer)(nil)

// NewLLMSynthesizer 创建答案生成器。
func NewLLMSynthesizer(chat llm.ChatProvider) *LLMSynthesizer {
	return &LLMSynthesizer{chat: chat}
}

// BuildPrompt 构建答案生成提示词。
func BuildPrompt(query string, snippets []string) string {
	var sb strings.Builder
	sb.WriteString(AnswerInstruction)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\nSnippets:\n")
	sb.WriteString(strings.Join(snippets, "\n"))
	sb.WriteString("\n")
	return sb.String()
}

// Generate 调用 Chat 供应商生成答案。
func (s *LLMSynthesizer) Generate(ctx context.Context, query string, snippets []string) (string, error) {
	if s.chat == nil {
		return "", fmt.Errorf("chat provider not configured")
	}
	answer, err := s.chat.Generate(ctx, BuildPrompt(query, snippets), "")
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// FormatSnippet 将分块格式化为 [paper_id:page_num] text。
func FormatSnippet(c model.Chunk) string {
	return fmt.Sprintf("[%s:%d] %s", c.PaperID, c.PageNum, c.Text)
}

// AnswerAssembler 拼装片段与引用并调用生成器。生成失败不影响引用返回。
type AnswerAssembler struct {
	synth   Synthesizer
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewAnswerAssembler 创建答案拼装器。
func NewAnswerAssembler(synth Synthesizer, timeout time.Duration, m *metrics.Metrics) *AnswerAssembler {
	return &AnswerAssembler{synth: synth, timeout: timeout, metrics: m}
}

// Assemble 生成答案，引用按分块排名顺序排列。
func (a *AnswerAssembler) Assemble(ctx context.Context, query string, chunks []model.RetrievedChunk) model.Answer {
	snippets := make([]string, 0, len(chunks))
	citations := make([]model.Citation, 0, len(chunks))
	for _, c := range chunks {
		snippets = append(snippets, FormatSnippet(c.Chunk))
		citations = append(citations, model.Citation{
			PaperID: c.PaperID,
			PageNum: c.PageNum,
			Score:   c.Score,
		})
	}

	return model.Answer{
		Answer:     a.generate(ctx, query, snippets),
		Citations:  citations,
		ChunksUsed: len(chunks),
	}
}

func (a *AnswerAssembler) generate(ctx context.Context, query string, snippets []string) string {
	if a.synth == nil {
		logger.Warn("answer synthesizer not configured")
		return AnswerGenerationFailed
	}

	ctx, span := tracing.StartSpan(ctx, "answer.generate")
	defer span.End()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	type outcome struct {
		answer string
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		answer, err := a.synth.Generate(ctx, query, snippets)
		done <- outcome{answer, err}
	}()

	var answer string
	var err error
	select {
	case o := <-done:
		answer, err = o.answer, o.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	a.metrics.RecordSynthesis(time.Since(start), err)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Errorw("answer generation failed", "error", err.Error())
		return AnswerGenerationFailed
	}
	if strings.TrimSpace(answer) == "" {
		return AnswerUnavailable
	}
	return answer
}

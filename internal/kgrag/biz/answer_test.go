package biz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/llm"
)

func sampleRetrieved() []model.RetrievedChunk {
	return []model.RetrievedChunk{
		{Chunk: model.Chunk{PaperID: "42", PageNum: 3, Text: "Bone density drops in microgravity."}, Score: 0.91},
		{Chunk: model.Chunk{PaperID: "7", PageNum: 1, Text: "Mice were flown on ISS."}, Score: 0.5},
	}
}

func TestFormatSnippet(t *testing.T) {
	got := FormatSnippet(model.Chunk{PaperID: "42", PageNum: 3, Text: "hello"})
	assert.Equal(t, "[42:3] hello", got)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("what?", []string{"[1:1] a", "[2:5] b"})

	assert.True(t, strings.HasPrefix(prompt, AnswerInstruction))
	assert.Contains(t, prompt, "Question: what?\nSnippets:\n[1:1] a\n[2:5] b")
}

func TestAnswerAssembler_Assemble(t *testing.T) {
	synth := &fakeSynth{answer: "Bone loss occurs [42:3]."}
	a := NewAnswerAssembler(synth, time.Second, nil)

	ans := a.Assemble(context.Background(), "bone loss in space", sampleRetrieved())

	assert.Equal(t, "Bone loss occurs [42:3].", ans.Answer)
	assert.Equal(t, 2, ans.ChunksUsed)
	assert.Equal(t, []model.Citation{
		{PaperID: "42", PageNum: 3, Score: 0.91},
		{PaperID: "7", PageNum: 1, Score: 0.5},
	}, ans.Citations)

	assert.Equal(t, "bone loss in space", synth.query)
	assert.Equal(t, []string{
		"[42:3] Bone density drops in microgravity.",
		"[7:1] Mice were flown on ISS.",
	}, synth.snippets)
}

func TestAnswerAssembler_Failures(t *testing.T) {
	tests := []struct {
		name    string
		synth   Synthesizer
		timeout time.Duration
		want    string
	}{
		{name: "error", synth: &fakeSynth{err: errors.New("boom")}, want: AnswerGenerationFailed},
		{name: "timeout", synth: &fakeSynth{answer: "late", delay: time.Second}, timeout: 20 * time.Millisecond, want: AnswerGenerationFailed},
		{name: "empty", synth: &fakeSynth{answer: "   "}, want: AnswerUnavailable},
		{name: "missing", synth: nil, want: AnswerGenerationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnswerAssembler(tt.synth, tt.timeout, nil)
			ans := a.Assemble(context.Background(), "q", sampleRetrieved())

			assert.Equal(t, tt.want, ans.Answer)
			assert.Len(t, ans.Citations, 2, "citations survive synthesis failure")
			assert.Equal(t, 2, ans.ChunksUsed)
		})
	}
}

type fakeChat struct {
	prompt string
	reply  string
	err    error
}

func (f *fakeChat) Chat(context.Context, []llm.Message) (string, error) { return f.reply, f.err }

func (f *fakeChat) Generate(_ context.Context, prompt, _ string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func (f *fakeChat) Name() string { return "fake" }

func TestLLMSynthesizer_Generate(t *testing.T) {
	chat := &fakeChat{reply: "  answer [1:1]  "}
	s := NewLLMSynthesizer(chat)

	got, err := s.Generate(context.Background(), "q", []string{"[1:1] a"})
	require.NoError(t, err)
	assert.Equal(t, "answer [1:1]", got)
	assert.Equal(t, BuildPrompt("q", []string{"[1:1] a"}), chat.prompt)

	chat.err = errors.New("down")
	_, err = s.Generate(context.Background(), "q", nil)
	assert.Error(t, err)

	_, err = NewLLMSynthesizer(nil).Generate(context.Background(), "q", nil)
	assert.Error(t, err)
}

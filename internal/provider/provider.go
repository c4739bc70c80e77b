package provider

import (
	"context"
	"errors"

	"archivist/internal/transcript"
)

// ErrNoEmbedding 协作方未返回向量 / ErrNoEmbedding means the collaborator returned no vector
var ErrNoEmbedding = errors.New("provider: no embedding produced")

// Embedder 文本向量化协作方
// Embedder turns text into a dense vector with the named model
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Generator 文本生成协作方
// Generator completes a prompt with the named model
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// TranscribeRequest 一次语音识别请求
// TranscribeRequest describes one speech-to-text call
type TranscribeRequest struct {
	AudioPath string
	Language  string
	Model     string
	// Prompt carries vocabulary hints.
	Prompt string
}

// Transcriber 语音识别协作方
// Transcriber turns an audio file into timed segments
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (transcript.Transcript, error)
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"archivist/internal/transcript"
)

// OpenAIConfig SDK provider 配置
// OpenAIConfig is the SDK provider configuration
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutMS  int
	MaxRetries int
}

// OpenAIProvider 通过 OpenAI 兼容接口实现向量化、生成与转写
// OpenAIProvider implements Embedder, Generator and Transcriber over an OpenAI-compatible API
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider 创建基于 SDK 的 provider
// NewOpenAIProvider creates an SDK-based provider
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(config), cfg: cfg}
}

func (p *OpenAIProvider) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoEmbedding
	}
	resp, err := withRetry(ctx, p.cfg.MaxRetries, "embed", func() (openai.EmbeddingResponse, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(model),
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt, model string) (string, error) {
	resp, err := withRetry(ctx, p.cfg.MaxRetries, "generate", func() (openai.ChatCompletionResponse, error) {
		return p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Transcribe 请求带分段与逐词时间戳的 verbose_json
// Transcribe asks for verbose_json with segment and word timestamps
func (p *OpenAIProvider) Transcribe(ctx context.Context, req TranscribeRequest) (transcript.Transcript, error) {
	resp, err := withRetry(ctx, p.cfg.MaxRetries, "transcribe", func() (openai.AudioResponse, error) {
		return p.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    req.Model,
			FilePath: req.AudioPath,
			Prompt:   req.Prompt,
			Language: req.Language,
			Format:   openai.AudioResponseFormatVerboseJSON,
			TimestampGranularities: []openai.TranscriptionTimestampGranularity{
				openai.TranscriptionTimestampGranularitySegment,
				openai.TranscriptionTimestampGranularityWord,
			},
		})
	})
	if err != nil {
		return transcript.Transcript{}, err
	}

	out := transcript.Transcript{Language: resp.Language}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, transcript.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	words := make([]transcript.Word, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, transcript.Word{Word: strings.TrimSpace(w.Word), Start: w.Start, End: w.End})
	}
	if len(out.Segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		seg := transcript.Segment{Start: 0, End: resp.Duration, Text: strings.TrimSpace(resp.Text)}
		out.Segments = []transcript.Segment{seg}
	}
	attachWords(out.Segments, words)
	return out, nil
}

// attachWords hands each word to the segment whose span contains its start.
// Words before the first segment go to it; words past a segment's end go to
// the last segment that started before them.
func attachWords(segments []transcript.Segment, words []transcript.Word) {
	if len(segments) == 0 || len(words) == 0 {
		return
	}
	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })
	si := 0
	for _, w := range words {
		for si+1 < len(segments) && w.Start >= segments[si+1].Start {
			si++
		}
		segments[si].Words = append(segments[si].Words, w)
	}
}

func withRetry[T any](ctx context.Context, maxRetries int, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// 不可重试的错误 / Non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !retryable(err) {
			return zero, fmt.Errorf("provider %s: %w", op, err)
		}
	}
	return zero, fmt.Errorf("provider %s failed after %d retries: %w", op, maxRetries, lastErr)
}

// retryable rejects client errors other than rate limiting.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

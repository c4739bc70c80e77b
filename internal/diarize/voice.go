package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPVoiceEmbedder asks a speaker-embedding sidecar for the voice vector of
// an audio span. The sidecar receives {"audio_path","start","end"} and
// answers {"embedding":[...]}.
type HTTPVoiceEmbedder struct {
	url    string
	client *http.Client
}

func NewHTTPVoiceEmbedder(url string, timeout time.Duration) *HTTPVoiceEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPVoiceEmbedder{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type voiceRequest struct {
	AudioPath string  `json:"audio_path"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

type voiceResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (h *HTTPVoiceEmbedder) EmbedSpan(ctx context.Context, audioPath string, start, end float64) ([]float32, error) {
	if h.url == "" {
		return nil, fmt.Errorf("voice embed url is empty")
	}
	body, err := json.Marshal(voiceRequest{AudioPath: audioPath, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("marshal voice request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build voice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice embed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("voice embed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out voiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode voice response: %w", err)
	}
	return out.Embedding, nil
}

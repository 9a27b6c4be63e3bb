package transform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"golang.org/x/net/http2"
)

type ollamaTransformer struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaTransformer calls an Ollama-compatible /api/generate endpoint.
func NewOllamaTransformer(endpoint, model string, client *http.Client) Transformer {
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaTransformer{endpoint: strings.TrimRight(endpoint, "/"), model: model, client: client}
}

// NewHTTPClient builds a pooled client, optionally negotiating HTTP/2 for TLS endpoints.
func NewHTTPClient(cfg config.TransformConfig) (*http.Client, error) {
	tr := &http.Transport{
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.HTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("enable http2: %w", err)
		}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (g *ollamaTransformer) modelFor(params ModelParameters) string {
	if params.Model != "" {
		return params.Model
	}
	if g.model != "" {
		return g.model
	}
	return "llama3.2:latest"
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

func (g *ollamaTransformer) Transform(ctx context.Context, req Request) (Response, error) {
	payload := ollamaRequest{
		Model:  g.modelFor(req.Model),
		Prompt: req.Text,
		System: req.Instructions,
		Stream: true,
		Options: ollamaOptions{
			Temperature: req.Model.Temperature,
			NumPredict:  req.Model.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var (
		accumulated strings.Builder
		out         Response
	)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Response{}, fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return Response{}, fmt.Errorf("ollama: %s", chunk.Error)
		}
		accumulated.WriteString(chunk.Response)
		if chunk.EvalCount > 0 {
			out.CompletionTokens = chunk.EvalCount
		}
		if chunk.PromptEvalCount > 0 {
			out.PromptTokens = chunk.PromptEvalCount
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("read ollama stream: %w", err)
	}
	out.Text = strings.TrimSpace(accumulated.String())
	out.Latency = time.Since(start)
	if out.Text == "" {
		return Response{}, ErrEmptyResponse
	}
	return out, nil
}

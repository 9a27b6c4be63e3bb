package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

type execTransformer struct {
	cmd []string
	mu  sync.Mutex
}

type execResponse struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// NewExecTransformer runs a command that reads a JSON request on stdin and writes
// {"text": ...} on stdout.
func NewExecTransformer(command string) (Transformer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transform command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transform command empty")
	}
	return &execTransformer{cmd: args}, nil
}

func (g *execTransformer) Transform(ctx context.Context, req Request) (Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	input, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return Response{}, fmt.Errorf("transform exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Response{}, fmt.Errorf("decode transform exec response: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:             text,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}

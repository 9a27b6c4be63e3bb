package transform

import (
	"context"
	"strings"
	"time"
)

type mockTransformer struct {
	delay time.Duration
}

// NewMockTransformer returns the transcript unchanged after delay.
func NewMockTransformer(delay time.Duration) Transformer { return &mockTransformer{delay: delay} }

func (m *mockTransformer) Transform(ctx context.Context, req Request) (Response, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return Response{Text: strings.TrimSpace(req.Text), Latency: m.delay}, nil
}

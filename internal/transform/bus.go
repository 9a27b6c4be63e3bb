package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

type busTransformer struct {
	bus     *bus.Client
	timeout time.Duration
}

// NewBusTransformer sends requests to a Service over NATS request/reply.
func NewBusTransformer(client *bus.Client, timeout time.Duration) Transformer {
	return &busTransformer{bus: client, timeout: timeout}
}

func (b *busTransformer) Transform(ctx context.Context, req Request) (Response, error) {
	data, err := json.Marshal(toWire(req))
	if err != nil {
		return Response{}, err
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := b.bus.Conn().RequestWithContext(ctx, protocol.SubjectTransformRequest, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return Response{}, fmt.Errorf("%w: no transform responders", ErrUnavailable)
		}
		return Response{}, fmt.Errorf("transform request: %w", err)
	}

	var reply protocol.TransformReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return Response{}, fmt.Errorf("decode transform reply: %w", err)
	}
	if reply.Error != "" {
		return Response{}, fmt.Errorf("remote transform: %s", reply.Error)
	}
	if reply.Text == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:             reply.Text,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}

func toWire(req Request) protocol.TransformRequest {
	return protocol.TransformRequest{
		Token:           req.Token,
		Text:            req.Text,
		Instructions:    req.Instructions,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguage:  req.TargetLanguage,
		DictionaryHints: req.DictionaryHints,
		Model:           req.Model.Model,
		Temperature:     req.Model.Temperature,
		MaxTokens:       req.Model.MaxTokens,
	}
}

func fromWire(msg protocol.TransformRequest) Request {
	return Request{
		Token:           msg.Token,
		Text:            msg.Text,
		Instructions:    msg.Instructions,
		SourceLanguage:  msg.SourceLanguage,
		TargetLanguage:  msg.TargetLanguage,
		DictionaryHints: msg.DictionaryHints,
		Model: ModelParameters{
			Model:       msg.Model,
			Temperature: msg.Temperature,
			MaxTokens:   msg.MaxTokens,
		},
	}
}

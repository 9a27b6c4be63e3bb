package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

const serviceQueue = "dictation-transform"

// Service answers transform requests on the bus with a local backend.
type Service struct {
	cfg         config.TransformConfig
	bus         *bus.Client
	transformer Transformer
	sub         *nats.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	ready       bool
	logger      *slog.Logger
}

func NewService(parent context.Context, cfg config.TransformConfig, busClient *bus.Client, transformer Transformer, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:         cfg,
		bus:         busClient,
		transformer: transformer,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With(slog.String("component", "transform-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Serve {
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTransformRequest, serviceQueue, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe transform requests: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cfg.Serve || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TransformRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode transform request", slogError(err))
		s.respond(msg, protocol.TransformReply{Error: "invalid request"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()

		options := fromWire(req)
		defaults := ParamsFromConfig(s.cfg)
		if options.Model.Model == "" {
			options.Model.Model = defaults.Model
		}
		if options.Model.Temperature == 0 {
			options.Model.Temperature = defaults.Temperature
		}
		options.Model.MaxTokens = coalesceInt(options.Model.MaxTokens, defaults.MaxTokens)

		start := time.Now()
		resp, err := s.transformer.Transform(ctx, options)
		if err != nil {
			s.logger.Warn("transform failed", slog.String("token", req.Token), slog.Int("chars", len(req.Text)), slogError(err))
			s.respond(msg, protocol.TransformReply{Error: err.Error(), LatencyMS: time.Since(start).Milliseconds()})
			return
		}
		s.respond(msg, protocol.TransformReply{
			Text:             resp.Text,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			LatencyMS:        time.Since(start).Milliseconds(),
		})
		s.logger.Info("transform complete", slog.String("token", req.Token), slog.Duration("latency", time.Since(start)))
	}()
}

func (s *Service) respond(msg *nats.Msg, reply protocol.TransformReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal transform reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to publish transform reply", slogError(err))
	}
}

package runtime

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/nats-io/nats.go"
)

// subscribeControl lets a recorder front-end drive the controller over the bus.
func (r *Runtime) subscribeControl() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectControlStart, r.handleControlStart},
		{protocol.SubjectControlStop, r.handleControlStop},
		{protocol.SubjectControlCancel, r.handleControlCancel},
		{protocol.SubjectAudioChunk, r.handleAudioChunk},
	}
	for _, h := range handlers {
		sub, err := r.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *Runtime) handleControlStart(msg *nats.Msg) {
	token, err := r.controller.Start(r.ctx)
	r.reply(msg, r.controlReply(token, err))
}

func (r *Runtime) handleControlStop(msg *nats.Msg) {
	token := r.controller.Status().Token
	results, err := r.controller.Stop(r.ctx)
	if err == nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.awaitResult(results)
		}()
	}
	r.reply(msg, r.controlReply(token, err))
}

func (r *Runtime) handleControlCancel(msg *nats.Msg) {
	token := r.controller.Status().Token
	var err error
	if !r.controller.Cancel() {
		err = session.ErrNotRecording
	}
	r.reply(msg, r.controlReply(token, err))
}

func (r *Runtime) handleAudioChunk(msg *nats.Msg) {
	var chunk protocol.AudioChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		r.logger.Warn("invalid audio chunk", slog.String("error", err.Error()))
		return
	}
	if err := r.controller.PushChunk(chunk.Token, chunk.Data); err != nil {
		r.logger.Debug("audio chunk dropped",
			slog.String("token", chunk.Token),
			slog.Int("sequence", chunk.Sequence),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runtime) reply(msg *nats.Msg, reply protocol.ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Warn("failed to marshal control reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("failed to publish control reply", slog.String("error", err.Error()))
	}
}

package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-dictate/internal/capability"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/platform"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
)

const maxChunkBody = 4 << 20

// Handler routes every endpoint. Open must have succeeded.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /status", r.handleStatus)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	if r.hub != nil {
		mux.Handle("/ws", r.hub)
	}
	mux.HandleFunc("POST /v1/session/start", r.handleSessionStart)
	mux.HandleFunc("POST /v1/session/chunk", r.handleSessionChunk)
	mux.HandleFunc("POST /v1/session/stop", r.handleSessionStop)
	mux.HandleFunc("POST /v1/session/cancel", r.handleSessionCancel)
	mux.HandleFunc("POST /v1/session/signout", r.handleSignOut)
	mux.HandleFunc("GET /v1/transcripts", r.handleTranscripts)
	mux.HandleFunc("GET /v1/sessions/{token}/events", r.handleSessionEvents)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// Ready reports whether the runtime is open and its bus connection, when configured, is up.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	return r.transformSvc == nil || r.transformSvc.Healthy()
}

type platformStatus struct {
	Adapter      string                `json:"adapter"`
	Capabilities platform.Capabilities `json:"capabilities"`
}

type transformStatus struct {
	Mode      string `json:"mode"`
	Serving   bool   `json:"serving"`
	Providers int    `json:"providers"`
}

type statusResponse struct {
	Runtime     string                     `json:"runtime"`
	Environment string                     `json:"environment"`
	Node        string                     `json:"node,omitempty"`
	Ready       bool                       `json:"ready"`
	Session     domain.Status              `json:"session"`
	Context     *domain.ApplicationContext `json:"context,omitempty"`
	Platform    platformStatus             `json:"platform"`
	Transform   transformStatus            `json:"transform"`
	Bus         bool                       `json:"bus"`
	WSClients   int                        `json:"ws_clients"`
	Nodes       []capability.NodeInfo      `json:"nodes,omitempty"`
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Runtime:     r.cfg.RuntimeName,
		Environment: r.cfg.Environment,
		Ready:       r.Ready(),
		Session:     r.controller.Status(),
		Platform: platformStatus{
			Adapter:      r.automation.Name(),
			Capabilities: r.automation.Capabilities(),
		},
		Transform: transformStatus{
			Mode:    r.cfg.Transform.Mode,
			Serving: r.transformSvc != nil,
		},
		Bus: r.bus != nil && r.bus.Healthy(),
	}
	if appCtx, ok := r.detector.CachedContext(); ok {
		resp.Context = &appCtx
	}
	if r.hub != nil {
		resp.WSClients = r.hub.Clients()
	}
	if r.registry != nil {
		resp.Node = r.cfg.Node.ID
		resp.Nodes = r.registry.Query(nil)
		resp.Transform.Providers = len(r.registry.Providers(capability.TransformServe))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Runtime) handleSessionStart(w http.ResponseWriter, req *http.Request) {
	token, err := r.controller.Start(r.ctx)
	writeJSON(w, statusFor(err), r.controlReply(token, err))
}

func (r *Runtime) handleSessionChunk(w http.ResponseWriter, req *http.Request) {
	var chunk protocol.AudioChunk
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxChunkBody)).Decode(&chunk); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ControlReply{Error: "invalid chunk: " + err.Error()})
		return
	}
	if err := r.controller.PushChunk(chunk.Token, chunk.Data); err != nil {
		writeJSON(w, statusFor(err), r.controlReply(chunk.Token, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionStop finalizes the recording. By default it waits for the session result;
// wait=false answers as soon as finalization has begun.
func (r *Runtime) handleSessionStop(w http.ResponseWriter, req *http.Request) {
	token := r.controller.Status().Token
	results, err := r.controller.Stop(r.ctx)
	if err != nil {
		writeJSON(w, statusFor(err), r.controlReply(token, err))
		return
	}
	if wait, perr := strconv.ParseBool(req.URL.Query().Get("wait")); perr == nil && !wait {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.awaitResult(results)
		}()
		writeJSON(w, http.StatusAccepted, r.controlReply(token, nil))
		return
	}
	writeJSON(w, http.StatusOK, r.awaitResult(results))
}

func (r *Runtime) handleSessionCancel(w http.ResponseWriter, _ *http.Request) {
	token := r.controller.Status().Token
	var err error
	if !r.controller.Cancel() {
		err = session.ErrNotRecording
	}
	writeJSON(w, statusFor(err), r.controlReply(token, err))
}

func (r *Runtime) handleSignOut(w http.ResponseWriter, _ *http.Request) {
	r.controller.SignOut()
	writeJSON(w, http.StatusOK, r.controlReply("", nil))
}

func (r *Runtime) handleTranscripts(w http.ResponseWriter, req *http.Request) {
	limit := queryInt(req, "limit", 50)
	transcripts, err := r.store.ListTranscripts(req.Context(), limit)
	if err != nil {
		r.logger.Warn("list transcripts failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, protocol.ControlReply{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, transcripts)
}

func (r *Runtime) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	events, err := r.store.ListEvents(req.Context(), req.PathValue("token"), queryInt(req, "limit", 100))
	if err != nil {
		r.logger.Warn("list session events failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, protocol.ControlReply{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (r *Runtime) controlReply(token string, err error) protocol.ControlReply {
	reply := protocol.ControlReply{
		OK:    err == nil,
		Token: token,
		State: string(r.controller.State()),
	}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrNotIdle), errors.Is(err, session.ErrNotRecording), errors.Is(err, session.ErrStaleChunk):
		return http.StatusConflict
	case errors.Is(err, session.ErrTooManyChunks):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(req *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(req.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

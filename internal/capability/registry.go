package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/platform"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Well-known capability names.
const (
	Session        = "dictation.session"
	Recognizer     = "stt"
	Transform      = "transform"
	TransformServe = "transform.serve"
	Automation     = "platform.automation"
)

// Capability is one advertised feature of a node.
type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeInfo is the registry view of a node.
type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

// Has reports whether the node advertises name.
func (n NodeInfo) Has(name string) bool {
	for _, c := range n.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Describe lists what this daemon offers given its configuration and the selected platform adapter.
func Describe(cfg config.Config, adapter string, caps platform.Capabilities) []Capability {
	out := []Capability{
		{Name: Session, Attributes: map[string]string{
			"sample_rate": strconv.Itoa(cfg.Audio.SampleRate),
			"channels":    strconv.Itoa(cfg.Audio.Channels),
		}},
		{Name: Recognizer, Attributes: map[string]string{"mode": cfg.STT.Mode}},
		{Name: Transform, Attributes: map[string]string{"mode": cfg.Transform.Mode, "model": cfg.Transform.Model}},
		{Name: Automation, Attributes: map[string]string{
			"adapter":      adapter,
			"window_query": strconv.FormatBool(caps.WindowQuery),
			"clipboard":    strconv.FormatBool(caps.Clipboard),
			"paste":        strconv.FormatBool(caps.Paste),
			"keystrokes":   strconv.FormatBool(caps.Keystrokes),
		}},
	}
	if cfg.Transform.Serve {
		out = append(out, Capability{Name: TransformServe, Attributes: map[string]string{"model": cfg.Transform.Model}})
	}
	return out
}

// Registry announces this node on the bus and tracks the liveness of its peers.
type Registry struct {
	cfg   config.NodeConfig
	local []Capability
	log   *slog.Logger
	bus   *bus.Client
	now   func() time.Time

	mu    sync.RWMutex
	nodes map[string]*NodeInfo

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, local []Capability, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		local:  local,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		now:    time.Now,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
	}

	if err := r.initMetrics(otel.Meter("github.com/loqalabs/loqa-dictate/capability")); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.wg.Add(2)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.wg.Wait()
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.cfg.HeartbeatIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.HeartbeatIntervalMS) * time.Millisecond / 2
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.local,
		Timestamp:    r.now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{NodeID: r.cfg.ID, Timestamp: r.now().UTC()}
	if err := r.bus.PublishJSON(protocol.HeartbeatSubject(r.cfg.ID), msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, "", nil, msg.Timestamp)
	return nil
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" || announcement.NodeID == r.cfg.ID {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	if isNew := r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp); isNew {
		r.log.Info("node discovered", slog.String("node", announcement.NodeID), slog.String("role", announcement.Role))
		// Late joiners learn about us without waiting for a restart.
		if err := r.announce(); err != nil {
			r.log.Warn("failed to announce node", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" || hb.NodeID == r.cfg.ID {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID, role string, capabilities []Capability, timestamp time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	node.LastSeen = timestamp
	node.Healthy = true
	return !ok
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := r.now()
	for _, node := range r.nodes {
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			r.log.Warn("node heartbeat expired", slog.String("node", node.ID))
		}
	}
}

// Healthy reports whether this node is registered and alive.
func (r *Registry) Healthy() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Query returns a copy of every node accepted by filter, ordered by id.
func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		snapshot := *node
		snapshot.Capabilities = append([]Capability(nil), node.Capabilities...)
		if filter == nil || filter(snapshot) {
			results = append(results, snapshot)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// Providers lists the healthy nodes advertising name.
func (r *Registry) Providers(name string) []NodeInfo {
	return r.Query(func(n NodeInfo) bool { return n.Healthy && n.Has(name) })
}

func (r *Registry) initMetrics(meter metric.Meter) error {
	nodes, err := meter.Int64ObservableGauge("dictation.nodes", metric.WithDescription("Known dictation nodes"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("dictation.nodes.healthy", metric.WithDescription("Dictation nodes with a live heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, alive := r.snapshotCounts()
		obs.ObserveInt64(nodes, total)
		obs.ObserveInt64(healthy, alive)
		return nil
	}, nodes, healthy)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total, alive int64
	for _, node := range r.nodes {
		total++
		if node.Healthy {
			alive++
		}
	}
	return total, alive
}

// LocalCapabilities returns what this node announces.
func (r *Registry) LocalCapabilities() []Capability {
	if r == nil {
		return nil
	}
	return append([]Capability(nil), r.local...)
}

package progress

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"extract_gateway/internal/utils"
)

// ErrSessionFull is returned by Admit when a session already holds the
// maximum number of live connections.
var ErrSessionFull = errors.New("session connection limit reached")

// Config controls registry capacity and housekeeping cadence.
type Config struct {
	// SessionCap is the maximum number of live connections per session.
	SessionCap int
	// HeartbeatInterval is how often keep-alive frames go out.
	HeartbeatInterval time.Duration
	// SweepInterval is how often the stale sweep runs.
	SweepInterval time.Duration
	// StaleAfter is how long a connection may stay silent before the
	// sweep evicts it.
	StaleAfter time.Duration
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SessionCap:        5,
		HeartbeatInterval: 30 * time.Second,
		SweepInterval:     30 * time.Second,
		StaleAfter:        2 * time.Minute,
		SendBuffer:        32,
	}
}

// ConnInfo is a point-in-time snapshot of one connection, used by the
// internal inspection endpoint.
type ConnInfo struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	State      string    `json:"state"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Metrics summarizes registry load. MemoryUsage is an estimate of the
// bytes held by connection buffers, not a measured value.
type Metrics struct {
	TotalConnections  int    `json:"totalConnections"`
	ActiveConnections int    `json:"activeConnections"`
	MemoryUsage       uint64 `json:"memoryUsage"`
}

// Registry tracks every live viewer connection, grouped by session. All
// mutation goes through the registry so the per-session cap and the
// eviction rules hold everywhere. Construct with NewRegistry and inject
// where needed; the registry keeps no package-level state.
type Registry struct {
	cfg    Config
	logger *utils.Logger

	mu       sync.Mutex
	sessions map[string]map[string]*Conn

	stopChan    chan struct{}
	stoppedChan chan struct{}
	started     atomic.Bool
	sweeping    atomic.Bool
}

// NewRegistry creates a registry. Call Start to run the heartbeat and
// stale-sweep loops; a registry works without them, it just never evicts
// silent connections on its own.
func NewRegistry(cfg Config, logger *utils.Logger) *Registry {
	if cfg.SessionCap <= 0 {
		cfg.SessionCap = DefaultConfig().SessionCap
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if logger == nil {
		logger = utils.NewLogger("progress")
	}
	return &Registry{
		cfg:         cfg,
		logger:      logger,
		sessions:    make(map[string]map[string]*Conn),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Admit registers a connection for a session and starts its writer. It
// fails with ErrSessionFull when the session is at capacity; the caller
// owns closing the rejected socket.
func (r *Registry) Admit(sessionID string, sock Socket) (*Conn, error) {
	conn := newConn(sessionID, sock, r.cfg.SendBuffer)

	r.mu.Lock()
	conns := r.sessions[sessionID]
	if len(conns) >= r.cfg.SessionCap {
		r.mu.Unlock()
		return nil, ErrSessionFull
	}
	if conns == nil {
		conns = make(map[string]*Conn)
		r.sessions[sessionID] = conns
	}
	conns[conn.ID] = conn
	conn.state.Store(int32(StateOpen))
	r.mu.Unlock()

	go conn.writeLoop(r.evict)

	r.logger.Debug("connection admitted", "connection_id", conn.ID, "session_id", sessionID)
	return conn, nil
}

// Touch records inbound activity on a connection. Any frame counts,
// including application messages, so chatty clients never look stale.
func (r *Registry) Touch(conn *Conn) {
	conn.touch()
}

// Remove detaches and closes a connection. Safe to call for connections
// the registry no longer tracks.
func (r *Registry) Remove(conn *Conn) {
	r.evict(conn)
}

// evict unregisters the connection and closes it. The transport close
// happens outside the lock.
func (r *Registry) evict(conn *Conn) {
	r.mu.Lock()
	if conns, ok := r.sessions[conn.SessionID]; ok {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(r.sessions, conn.SessionID)
		}
	}
	r.mu.Unlock()

	conn.close()
}

// CleanupSession closes and removes every connection of a session.
// Idempotent: cleaning an unknown session is a no-op.
func (r *Registry) CleanupSession(sessionID string) int {
	r.mu.Lock()
	conns := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	victims := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		victims = append(victims, c)
	}
	r.mu.Unlock()

	for _, c := range victims {
		c.close()
	}
	if len(victims) > 0 {
		r.logger.Info("session cleaned up", "session_id", sessionID, "connections_closed", len(victims))
	}
	return len(victims)
}

// SessionConnections returns a snapshot of a session's connections.
func (r *Registry) SessionConnections(sessionID string) []ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]ConnInfo, 0, len(r.sessions[sessionID]))
	for _, c := range r.sessions[sessionID] {
		infos = append(infos, ConnInfo{
			ID:         c.ID,
			SessionID:  c.SessionID,
			State:      c.State().String(),
			LastSeenAt: c.LastSeenAt(),
		})
	}
	return infos
}

// Metrics returns current registry load.
func (r *Registry) Metrics() Metrics {
	now := time.Now()

	r.mu.Lock()
	total := 0
	active := 0
	for _, conns := range r.sessions {
		total += len(conns)
		for _, c := range conns {
			if now.Sub(c.LastSeenAt()) <= r.cfg.StaleAfter {
				active++
			}
		}
	}
	r.mu.Unlock()

	return Metrics{
		TotalConnections:  total,
		ActiveConnections: active,
		MemoryUsage:       utils.EstimateMemory(total, r.cfg.SendBuffer*512, 1024),
	}
}

// sendToSession fans a payload out to every connection of a session
// without blocking. Delivery is best effort: a full send buffer drops
// the message, and only a connection that keeps refusing messages is
// evicted. Returns the number of successful enqueues.
func (r *Registry) sendToSession(sessionID string, payload []byte) int {
	r.mu.Lock()
	targets := make([]*Conn, 0, len(r.sessions[sessionID]))
	for _, c := range r.sessions[sessionID] {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			sent++
			continue
		}
		r.dropOrEvict(c)
	}
	return sent
}

// broadcastAll sends a payload to every connection in the registry.
func (r *Registry) broadcastAll(payload []byte) {
	r.mu.Lock()
	targets := make([]*Conn, 0)
	for _, conns := range r.sessions {
		for _, c := range conns {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(payload) {
			r.dropOrEvict(c)
		}
	}
}

// dropOrEvict handles a refused send. A transiently full buffer just
// costs the frame; a connection saturated past maxSendDrops is closed.
func (r *Registry) dropOrEvict(c *Conn) {
	if !c.saturated() {
		r.logger.Debug("dropping message for slow connection", "connection_id", c.ID, "session_id", c.SessionID)
		return
	}
	r.logger.Warn("evicting saturated connection", "connection_id", c.ID, "session_id", c.SessionID)
	r.evict(c)
}

// Start launches the heartbeat and stale-sweep loops.
func (r *Registry) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run()
	r.logger.Info("registry started",
		"session_cap", r.cfg.SessionCap,
		"heartbeat_interval", r.cfg.HeartbeatInterval.String(),
		"stale_after", r.cfg.StaleAfter.String())
}

// Shutdown stops the housekeeping loops and closes every connection.
func (r *Registry) Shutdown() {
	if r.started.CompareAndSwap(true, false) {
		close(r.stopChan)
		<-r.stoppedChan
	}

	r.mu.Lock()
	victims := make([]*Conn, 0)
	for _, conns := range r.sessions {
		for _, c := range conns {
			victims = append(victims, c)
		}
	}
	r.sessions = make(map[string]map[string]*Conn)
	r.mu.Unlock()

	for _, c := range victims {
		c.close()
	}
	r.logger.Info("registry shut down", "connections_closed", len(victims))
}

func (r *Registry) run() {
	defer close(r.stoppedChan)

	heartbeat := time.NewTicker(r.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-heartbeat.C:
			r.sendHeartbeats()
		case <-sweep.C:
			r.sweepStale()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Registry) sendHeartbeats() {
	payload, err := json.Marshal(map[string]string{"type": "heartbeat"})
	if err != nil {
		return
	}
	r.broadcastAll(payload)
}

// sweepStale evicts connections silent for longer than StaleAfter. The
// guard skips a run outright when the previous one is still going; a
// slow sweep must not stack up behind itself.
func (r *Registry) sweepStale() {
	if !r.sweeping.CompareAndSwap(false, true) {
		r.logger.Warn("stale sweep still running, skipping")
		return
	}
	defer r.sweeping.Store(false)

	cutoff := time.Now().Add(-r.cfg.StaleAfter)

	r.mu.Lock()
	stale := make([]*Conn, 0)
	for _, conns := range r.sessions {
		for _, c := range conns {
			if c.LastSeenAt().Before(cutoff) {
				stale = append(stale, c)
			}
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		r.logger.Info("evicting stale connection",
			"connection_id", c.ID,
			"session_id", c.SessionID,
			"last_seen", c.LastSeenAt().Format(time.RFC3339))
		r.evict(c)
	}
}

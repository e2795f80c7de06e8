package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"portal-chat/internal/models"
	"portal-chat/internal/observability"
	"portal-chat/internal/scheduler"
	"portal-chat/internal/session"
)

const (
	keyHeartbeat = "conn.heartbeat"
	keyReconnect = "conn.reconnect"
	keyStale     = "conn.stale"

	writeWait = 10 * time.Second
)

// Dialer opens a websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ConnectionConfig tunes heartbeat and reconnection.
type ConnectionConfig struct {
	HeartbeatInterval time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	// PongTimeout is how long past one heartbeat interval a silent
	// connection is kept before it is judged stale.
	PongTimeout time.Duration
}

// DefaultConnectionConfig pings every 30s, drops a connection silent for
// 35s and retries five times with delays of 1s, 2s, 4s, 8s and 16s, capped
// at 30s.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		HeartbeatInterval: 30 * time.Second,
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		PongTimeout:       5 * time.Second,
	}
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	return c
}

func (c ConnectionConfig) newBackoff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// roomConn is the connection of one room session. epoch changes whenever
// the underlying socket is replaced or abandoned so late events from an
// old socket are ignored.
type roomConn struct {
	roomID  int64
	sched   *scheduler.Scheduler
	ctx     context.Context
	cancel  context.CancelFunc
	backoff *backoff.ExponentialBackOff

	epoch        uint64
	conn         *websocket.Conn
	writeMu      sync.Mutex
	lastActivity time.Time
}

// ConnectionManager owns the single live connection of the active room.
type ConnectionManager struct {
	sess    *session.Session
	dialer  Dialer
	cfg     ConnectionConfig
	onFrame func(roomID int64, f models.Frame)
	onState func(models.ConnectionState)

	mu    sync.Mutex
	rc    *roomConn
	state models.ConnectionState
}

// NewConnectionManager creates a manager. onFrame receives every inbound
// frame except heartbeat traffic. onState runs with the manager lock held
// and must not call back into the manager.
func NewConnectionManager(sess *session.Session, dialer Dialer, cfg ConnectionConfig, onFrame func(int64, models.Frame), onState func(models.ConnectionState)) *ConnectionManager {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &ConnectionManager{
		sess:    sess,
		dialer:  dialer,
		cfg:     cfg.withDefaults(),
		onFrame: onFrame,
		onState: onState,
		state:   models.ConnectionState{Status: models.ConnectionClosed},
	}
}

// State returns the state of the current room connection.
func (m *ConnectionManager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the status of roomID. Any room other than the active one
// is closed.
func (m *ConnectionManager) Status(roomID int64) models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rc == nil || m.rc.roomID != roomID {
		return models.ConnectionClosed
	}
	return m.state.Status
}

// Open closes any previous connection normally and starts connecting to
// roomID. Timers are registered in sched.
func (m *ConnectionManager) Open(roomID int64, sched *scheduler.Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()

	ctx, cancel := context.WithCancel(context.Background())
	m.rc = &roomConn{
		roomID:  roomID,
		sched:   sched,
		ctx:     ctx,
		cancel:  cancel,
		backoff: m.cfg.newBackoff(),
	}
	m.setStateLocked(models.ConnectionState{RoomID: roomID, Status: models.ConnectionClosed})
	m.connectLocked(m.rc)
}

// Close closes the connection normally. No reconnect follows.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rc == nil {
		return
	}
	roomID := m.rc.roomID
	m.teardownLocked()
	m.rc = nil
	m.setStateLocked(models.ConnectionState{RoomID: roomID, Status: models.ConnectionClosed})
}

// Send writes f to the open socket.
func (m *ConnectionManager) Send(f models.Frame) error {
	m.mu.Lock()
	rc := m.rc
	if rc == nil || rc.conn == nil || m.state.Status != models.ConnectionOpen {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn, epoch := rc.conn, rc.epoch
	m.mu.Unlock()

	if err := writeFrame(rc, conn, f); err != nil {
		terr := &TransportError{Op: "write", RoomID: rc.roomID, Err: err}
		m.fail(rc, epoch, terr)
		return terr
	}
	return nil
}

func (m *ConnectionManager) connectLocked(rc *roomConn) {
	rc.epoch++
	epoch := rc.epoch
	state := m.state
	state.Status = models.ConnectionConnecting
	m.setStateLocked(state)

	url := m.sess.RoomSocketURL(rc.roomID)
	header := m.sess.Header()
	go func() {
		conn, resp, err := m.dialer.DialContext(rc.ctx, url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			m.fail(rc, epoch, &TransportError{Op: "dial", RoomID: rc.roomID, Err: err})
			return
		}
		m.opened(rc, epoch, conn)
	}()
}

func (m *ConnectionManager) opened(rc *roomConn, epoch uint64, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rc != rc || rc.epoch != epoch || rc.ctx.Err() != nil {
		closeNormal(rc, conn)
		return
	}
	now := rc.sched.Now()
	rc.conn = conn
	rc.lastActivity = now
	rc.backoff.Reset()
	m.setStateLocked(models.ConnectionState{
		RoomID:          rc.roomID,
		Status:          models.ConnectionOpen,
		LastHeartbeatAt: now,
	})
	log.Printf("chat connection open room=%d", rc.roomID)

	rc.sched.Every(keyHeartbeat, m.cfg.HeartbeatInterval, func() {
		m.heartbeat(rc, epoch)
	})
	m.armStaleLocked(rc, epoch, m.staleAfter())
	go m.readLoop(rc, epoch, conn)
}

func (m *ConnectionManager) readLoop(rc *roomConn, epoch uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				m.closedNormally(rc, epoch)
				return
			}
			m.fail(rc, epoch, &TransportError{Op: "read", RoomID: rc.roomID, Err: err})
			return
		}
		if !m.touch(rc, epoch) {
			return
		}

		var f models.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logProtocolError(&ProtocolError{Err: err})
			continue
		}
		switch f.Type {
		case models.FrameHeartbeat:
			if err := writeFrame(rc, conn, models.Frame{Type: models.FrameHeartbeat}.Stamp(time.Now())); err != nil {
				m.fail(rc, epoch, &TransportError{Op: "write", RoomID: rc.roomID, Err: err})
				return
			}
		case models.FramePong:
		case "":
			logProtocolError(&ProtocolError{Err: errors.New("missing frame type")})
		default:
			if m.onFrame != nil {
				m.onFrame(rc.roomID, f)
			}
		}
	}
}

// touch records inbound activity. It returns false if the socket is no
// longer current.
func (m *ConnectionManager) touch(rc *roomConn, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rc != rc || rc.epoch != epoch {
		return false
	}
	now := rc.sched.Now()
	rc.lastActivity = now
	state := m.state
	state.LastHeartbeatAt = now
	m.state = state
	m.armStaleLocked(rc, epoch, m.staleAfter())
	return true
}

func (m *ConnectionManager) staleAfter() time.Duration {
	return m.cfg.HeartbeatInterval + m.cfg.PongTimeout
}

// armStaleLocked schedules the stale check d from now, replacing any
// earlier deadline.
func (m *ConnectionManager) armStaleLocked(rc *roomConn, epoch uint64, d time.Duration) {
	rc.sched.After(keyStale, d, func() {
		m.checkStale(rc, epoch)
	})
}

// checkStale fails the connection when nothing arrived for staleAfter.
func (m *ConnectionManager) checkStale(rc *roomConn, epoch uint64) {
	m.mu.Lock()
	if m.rc != rc || rc.epoch != epoch || rc.conn == nil {
		m.mu.Unlock()
		return
	}
	idle := rc.sched.Now().Sub(rc.lastActivity)
	if remaining := m.staleAfter() - idle; remaining > 0 {
		m.armStaleLocked(rc, epoch, remaining)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.fail(rc, epoch, &TransportError{Op: "heartbeat", RoomID: rc.roomID, Err: errStaleConnection})
}

func (m *ConnectionManager) heartbeat(rc *roomConn, epoch uint64) {
	m.mu.Lock()
	if m.rc != rc || rc.epoch != epoch || rc.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := rc.conn
	m.mu.Unlock()

	if err := writeFrame(rc, conn, models.Frame{Type: models.FramePing}.Stamp(time.Now())); err != nil {
		m.fail(rc, epoch, &TransportError{Op: "ping", RoomID: rc.roomID, Err: err})
	}
}

// fail handles an abnormal end of the current attempt and schedules the
// next one, or gives up after MaxAttempts.
func (m *ConnectionManager) fail(rc *roomConn, epoch uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rc != rc || rc.epoch != epoch || rc.ctx.Err() != nil {
		return
	}
	rc.epoch++
	rc.sched.Cancel(keyHeartbeat)
	rc.sched.Cancel(keyStale)
	if rc.conn != nil {
		closeNormal(rc, rc.conn)
		rc.conn = nil
	}
	log.Printf("chat connection error: %v", err)

	state := m.state
	if state.ReconnectAttempt >= m.cfg.MaxAttempts {
		state.Status = models.ConnectionDisconnected
		m.setStateLocked(state)
		log.Printf("chat connection room=%d disconnected after %d attempts", rc.roomID, state.ReconnectAttempt)
		return
	}

	delay := rc.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.MaxBackoff
	}
	state.Status = models.ConnectionError
	state.ReconnectAttempt++
	m.setStateLocked(state)
	observability.IncReconnect()

	rc.sched.After(keyReconnect, delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.rc != rc || rc.ctx.Err() != nil {
			return
		}
		m.connectLocked(rc)
	})
}

func (m *ConnectionManager) closedNormally(rc *roomConn, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rc != rc || rc.epoch != epoch {
		return
	}
	rc.epoch++
	rc.sched.Cancel(keyHeartbeat)
	rc.sched.Cancel(keyStale)
	rc.conn.Close()
	rc.conn = nil
	state := m.state
	state.Status = models.ConnectionClosed
	m.setStateLocked(state)
	log.Printf("chat connection closed by server room=%d", rc.roomID)
}

func (m *ConnectionManager) teardownLocked() {
	rc := m.rc
	if rc == nil {
		return
	}
	rc.cancel()
	rc.epoch++
	rc.sched.Cancel(keyHeartbeat)
	rc.sched.Cancel(keyStale)
	rc.sched.Cancel(keyReconnect)
	if rc.conn != nil {
		closeNormal(rc, rc.conn)
		rc.conn = nil
	}
}

func (m *ConnectionManager) setStateLocked(s models.ConnectionState) {
	m.state = s
	observability.SetConnectionStatus(string(s.Status))
	if m.onState != nil {
		m.onState(s)
	}
}

func writeFrame(rc *roomConn, conn *websocket.Conn, f models.Frame) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func closeNormal(rc *roomConn, conn *websocket.Conn) {
	rc.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	rc.writeMu.Unlock()
	conn.Close()
}

func logProtocolError(err *ProtocolError) {
	observability.IncProtocolError()
	log.Printf("chat frame dropped: %v", err)
}

// Package transport maintains the duplex channel to the remote session
// service.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/metrics"
)

// State is the transport connection state.
type State int

// Transport states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateActive
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "disconnected"
	}
}

// Inbound event types from the remote session service.
const (
	EventSessionReady   = "session-ready"
	EventCoachingCue    = "coaching-cue"
	EventSessionMetrics = "session-metrics"
	EventError          = "error"
	EventSessionEnded   = "session-ended"
)

// envelope is the wire format for all non-audio traffic.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is one inbound message dispatched to listeners.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// Listener receives inbound events. A panicking listener is recovered and
// logged; it never takes down the transport loop.
type Listener func(Event)

// sendQueueSize bounds outbound buffering. When full, the oldest queued
// message is dropped rather than blocking the session loops.
const sendQueueSize = 100

type outMsg struct {
	typ  websocket.MessageType
	data []byte
}

// Stream is a duplex websocket channel to the remote session service.
// Authentication is the mandatory first frame after dial; the server rejects
// any pre-auth payload. There is no auto-reconnect mid-session: on unexpected
// closure the configured OnClosed hook fires and the session controller ends
// the session gracefully.
type Stream struct {
	url            string
	authToken      string
	connectTimeout time.Duration

	// OnClosed is invoked once when the channel closes for a non-normal
	// reason. Set before Connect.
	OnClosed func(error)

	mu        sync.RWMutex
	state     State
	conn      *websocket.Conn
	listeners []Listener

	sendQ  chan outMsg
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closedOnce sync.Once
}

// NewStream creates a stream for the given websocket URL.
func NewStream(url, authToken string, connectTimeout time.Duration) *Stream {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Stream{
		url:            url,
		authToken:      authToken,
		connectTimeout: connectTimeout,
		state:          StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SetTransportState(st.String())
}

// SetOnClosed sets the hook invoked once on non-normal closure. Set before
// Connect.
func (s *Stream) SetOnClosed(fn func(error)) {
	s.OnClosed = fn
}

// OnEvent registers a listener for inbound events. Register before Connect.
func (s *Stream) OnEvent(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Connect dials the remote service, sends the mandatory authenticate frame,
// and waits for session-ready. The whole sequence runs under a hard
// deadline; on timeout the connection is torn down and ErrTransportTimeout
// returned.
func (s *Stream) Connect(ctx context.Context, sessionID string) error {
	if st := s.State(); st != StateDisconnected {
		return fmt.Errorf("connect in state %s: %w", st, domain.ErrTransportClosed)
	}
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		s.setState(StateDisconnected)
		if dialCtx.Err() != nil {
			return fmt.Errorf("dial %s: %w", s.url, domain.ErrTransportTimeout)
		}
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.setState(StateAuthenticating)

	// Authentication must be the first frame; no other traffic before it.
	auth, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"token":      s.authToken,
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "marshal auth")
		s.setState(StateDisconnected)
		return fmt.Errorf("marshal auth payload: %w", err)
	}
	if err := writeEnvelope(dialCtx, conn, "authenticate", auth); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth write failed")
		s.setState(StateDisconnected)
		if dialCtx.Err() != nil {
			return fmt.Errorf("send auth: %w", domain.ErrTransportTimeout)
		}
		return fmt.Errorf("send auth: %w", err)
	}

	// Wait for session-ready before accepting any outbound traffic.
	if err := awaitReady(dialCtx, conn); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "not ready")
		s.setState(StateDisconnected)
		return err
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.cancel = loopCancel
	s.sendQ = make(chan outMsg, sendQueueSize)
	s.mu.Unlock()
	s.setState(StateReady)

	s.wg.Add(2)
	go s.readLoop(loopCtx, conn)
	go s.sendLoop(loopCtx, conn)

	slog.Info("Transport connected", "url", s.url, "session_id", sessionID)
	return nil
}

func awaitReady(ctx context.Context, conn *websocket.Conn) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("await ready: %w", domain.ErrTransportTimeout)
		}
		return fmt.Errorf("await ready: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode ready frame: %w", err)
	}
	if env.Event != EventSessionReady {
		return fmt.Errorf("expected %s, got %q: %w", EventSessionReady, env.Event, domain.ErrTransportClosed)
	}
	return nil
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, event string, payload json.RawMessage) error {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Activate marks the channel active for the session's duration.
func (s *Stream) Activate() {
	if s.State() == StateReady {
		s.setState(StateActive)
	}
}

// SendAudio queues one raw audio chunk. No-op with a warning outside
// ready/active.
func (s *Stream) SendAudio(chunk []byte) {
	s.send(outMsg{typ: websocket.MessageBinary, data: chunk}, "audio")
}

// SendObservation queues one derived observation. No-op with a warning
// outside ready/active.
func (s *Stream) SendObservation(obs domain.Observation) {
	payload, err := json.Marshal(obs)
	if err != nil {
		slog.Warn("Failed to marshal observation", "error", err)
		return
	}
	data, err := json.Marshal(envelope{Event: "observation", Payload: payload})
	if err != nil {
		slog.Warn("Failed to marshal observation envelope", "error", err)
		return
	}
	s.send(outMsg{typ: websocket.MessageText, data: data}, "observation")
}

// send queues fire-and-forget. The queue is bounded: when full the oldest
// message is dropped so session loops never block on the network.
func (s *Stream) send(msg outMsg, kind string) {
	st := s.State()
	if st != StateReady && st != StateActive {
		slog.Warn("Dropping outbound message, transport not open", "kind", kind, "state", st.String())
		return
	}

	s.mu.RLock()
	q := s.sendQ
	s.mu.RUnlock()
	if q == nil {
		return
	}

	select {
	case q <- msg:
	default:
		select {
		case <-q:
			metrics.IncTransportDropped()
			slog.Warn("Send queue full, dropped oldest message", "kind", kind)
		default:
		}
		select {
		case q <- msg:
		default:
			metrics.IncTransportDropped()
		}
	}
}

func (s *Stream) sendLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	s.mu.RLock()
	q := s.sendQ
	s.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q:
			if err := conn.Write(ctx, msg.typ, msg.data); err != nil {
				if ctx.Err() == nil {
					slog.Warn("Transport write error", "error", err)
				}
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Info("Transport closed by server")
				s.notifyClosed(nil)
				return
			}
			slog.Warn("Transport read error", "error", err, "close_status", status)
			s.notifyClosed(fmt.Errorf("read: %w", domain.ErrTransportClosed))
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("Malformed inbound frame", "error", err)
			continue
		}
		s.dispatch(Event{Type: env.Event, Payload: env.Payload})
	}
}

// dispatch fans an event out to listeners, recovering panics so a bad
// listener cannot crash the transport loop.
func (s *Stream) dispatch(ev Event) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Event listener panicked", "event", ev.Type, "panic", r)
				}
			}()
			l(ev)
		}()
	}
}

func (s *Stream) notifyClosed(err error) {
	s.closedOnce.Do(func() {
		s.teardown(websocket.StatusNormalClosure, "closed")
		if s.OnClosed != nil {
			s.OnClosed(err)
		}
	})
}

// Close ends the channel with a normal closure and waits for the loops to
// stop. Idempotent. Must not be called from inside an event listener.
func (s *Stream) Close() error {
	s.closedOnce.Do(func() {
		s.setState(StateEnding)
		s.teardown(websocket.StatusNormalClosure, "session ended")
	})
	s.wg.Wait()
	return nil
}

func (s *Stream) teardown(code websocket.StatusCode, reason string) {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(code, reason); err != nil {
			slog.Debug("Failed to close websocket", "error", err)
		}
	}
	s.setState(StateDisconnected)
}

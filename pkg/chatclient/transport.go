package chatclient

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/storeline/storechat/pkg/wire"
)

// ConnState is the transport connection lifecycle.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	// StateFailed is terminal: reconnect attempts are exhausted and
	// the client surfaces a persistent connection-error banner.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transport owns one long-lived bidirectional connection. Inbound
// server pushes arrive on Events; the channel closes when the
// transport is done for good (closed, or reconnects exhausted).
type Transport interface {
	Emit(ev wire.Event) error
	Events() <-chan wire.ServerEvent
	States() <-chan ConnState
	Close() error
}

const (
	reconnectAttempts = 5
	reconnectBackoff  = 2 * time.Second
)

// WSTransport is the gorilla/websocket Transport with bounded
// automatic reconnection: a fixed backoff, five attempts, then
// StateFailed.
type WSTransport struct {
	url    string
	header http.Header
	log    zerolog.Logger

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan wire.ServerEvent
	states chan ConnState

	done      chan struct{}
	closeOnce sync.Once
}

// DialTransport connects and starts the read pump.
func DialTransport(url string, header http.Header, log zerolog.Logger) (*WSTransport, error) {
	t := &WSTransport{
		url:    url,
		header: header,
		log:    log,
		events: make(chan wire.ServerEvent, 64),
		states: make(chan ConnState, 8),
		done:   make(chan struct{}),
	}

	t.pushState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	t.pushState(StateConnected)

	go t.readLoop()
	return t, nil
}

func (t *WSTransport) Events() <-chan wire.ServerEvent { return t.events }
func (t *WSTransport) States() <-chan ConnState        { return t.states }

// Emit encodes and writes one frame. Serialized by writeMu; gorilla
// connections allow only one concurrent writer.
func (t *WSTransport) Emit(ev wire.Event) error {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := wire.Encode(ev)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *WSTransport) readLoop() {
	defer close(t.events)
	for {
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()

		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.log.Warn().Err(err).Msg("connection lost")
			t.pushState(StateDisconnected)
			if !t.reconnect() {
				t.pushState(StateFailed)
				return
			}
			continue
		}

		ev, err := wire.DecodeServer(frame)
		if err != nil {
			t.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) reconnect() bool {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		select {
		case <-t.done:
			return false
		case <-time.After(reconnectBackoff):
		}

		t.pushState(StateConnecting)
		t.log.Info().Int("attempt", attempt).Msg("reconnecting")
		conn, _, err := websocket.DefaultDialer.Dial(t.url, t.header)
		if err != nil {
			t.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		t.connMu.Lock()
		t.conn = conn
		t.connMu.Unlock()
		t.pushState(StateConnected)
		return true
	}
	return false
}

// pushState never blocks; a slow consumer only loses intermediate
// transitions, never the latest one it reads next.
func (t *WSTransport) pushState(s ConnState) {
	select {
	case t.states <- s:
	default:
	}
}

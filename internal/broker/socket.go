package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/metrics"
)

const (
	socketMarket  = "market"
	socketTrading = "trading"

	// Time allowed to write a frame to the peer
	socketWriteWait = 10 * time.Second

	// Replies not received within this window evict the request id
	defaultReplyTimeout = 10 * time.Second
)

// socket is one framed stream connection. It owns the read pump, the
// request/reply demultiplexer keyed by request id, and the outbound
// heartbeat ticker.
type socket struct {
	name string

	heartbeatEvery time.Duration
	replyTimeout   time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex

	reqID   atomic.Int64
	pendMu  sync.Mutex
	pending map[int64]chan serverMessage

	onEvent func(serverMessage)
	onClose func(error)

	userClosed atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
	wg         sync.WaitGroup
}

// dialSocket connects, waits for the server's open frame, starts the read
// and heartbeat pumps, and authorizes with the given token.
func dialSocket(ctx context.Context, name, url, token string, heartbeatEvery time.Duration, onEvent func(serverMessage), onClose func(error)) (*socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s stream: %w", name, err)
	}

	s := &socket{
		name:           name,
		heartbeatEvery: heartbeatEvery,
		replyTimeout:   defaultReplyTimeout,
		conn:           conn,
		pending:        make(map[int64]chan serverMessage),
		onEvent:        onEvent,
		onClose:        onClose,
		done:           make(chan struct{}),
	}

	if err := s.awaitOpen(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeatLoop()

	if err := s.authorize(ctx, token); err != nil {
		s.Close()
		return nil, err
	}

	metrics.SetSocketConnected(name, true)
	log.Info().Str("socket", name).Msg("Stream connected and authorized")
	return s, nil
}

// awaitOpen reads the server's first frame, which must be the 'o' open
// marker before any request is accepted.
func (s *socket) awaitOpen(ctx context.Context) error {
	deadline := time.Now().Add(s.replyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read %s stream open frame: %w", s.name, err)
	}
	kind, _, err := decodeFrame(raw)
	if err != nil {
		return err
	}
	if kind != frameOpen {
		return fmt.Errorf("unexpected first frame on %s stream", s.name)
	}
	return nil
}

// authorize binds the session token to the stream. The body is the raw
// token, not JSON.
func (s *socket) authorize(ctx context.Context, token string) error {
	msg, err := s.request(ctx, "authorize", []byte(token))
	if err != nil {
		return fmt.Errorf("failed to authorize %s stream: %w", s.name, err)
	}
	if msg.Status != http.StatusOK {
		return fmt.Errorf("%w: authorize on %s stream returned status %d", ErrRejected, s.name, msg.Status)
	}
	return nil
}

// requestJSON marshals body and issues a framed request.
func (s *socket) requestJSON(ctx context.Context, endpoint string, body any) (serverMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return serverMessage{}, fmt.Errorf("failed to encode %s request body: %w", endpoint, err)
	}
	return s.request(ctx, endpoint, raw)
}

// request sends one framed request and waits for the matching reply.
// Replies are matched by the monotonically increasing request id; a reply
// not seen within the timeout evicts the id so a late arrival is dropped
// by the read pump instead of leaking a channel.
func (s *socket) request(ctx context.Context, endpoint string, body []byte) (serverMessage, error) {
	select {
	case <-s.done:
		return serverMessage{}, ErrNotConnected
	default:
	}

	id := s.reqID.Add(1)
	reply := make(chan serverMessage, 1)

	s.pendMu.Lock()
	s.pending[id] = reply
	s.pendMu.Unlock()

	start := time.Now()
	if err := s.write(encodeFrame(endpoint, id, body)); err != nil {
		s.evict(id)
		return serverMessage{}, fmt.Errorf("failed to send %s request: %w", endpoint, err)
	}

	timer := time.NewTimer(s.replyTimeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		metrics.RecordSocketRequest(s.name, endpoint, float64(time.Since(start).Milliseconds()))
		return msg, nil
	case <-timer.C:
		s.evict(id)
		log.Warn().
			Str("socket", s.name).
			Str("endpoint", endpoint).
			Int64("request_id", id).
			Msg("Stream request timed out")
		return serverMessage{}, fmt.Errorf("%s: %w", endpoint, ErrRequestTimeout)
	case <-ctx.Done():
		s.evict(id)
		return serverMessage{}, ctx.Err()
	case <-s.done:
		return serverMessage{}, ErrNotConnected
	}
}

func (s *socket) evict(id int64) {
	s.pendMu.Lock()
	delete(s.pending, id)
	s.pendMu.Unlock()
}

func (s *socket) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop pumps inbound frames until the connection dies.
func (s *socket) readLoop() {
	defer s.wg.Done()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}

		kind, msgs, err := decodeFrame(raw)
		if err != nil {
			log.Warn().Err(err).Str("socket", s.name).Msg("Discarding undecodable stream frame")
			continue
		}

		switch kind {
		case frameClose:
			s.shutdown(fmt.Errorf("%s stream closed by server", s.name))
			return
		case frameData:
			for _, msg := range msgs {
				s.dispatch(msg)
			}
		}
		// open and heartbeat frames carry nothing
	}
}

// dispatch routes a reply to its waiting request or hands a push to the
// event handler.
func (s *socket) dispatch(msg serverMessage) {
	if msg.ID != 0 {
		s.pendMu.Lock()
		reply, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.pendMu.Unlock()

		if ok {
			reply <- msg
			return
		}
		// Reply arrived after its request timed out and was evicted
		log.Debug().
			Str("socket", s.name).
			Int64("request_id", msg.ID).
			Msg("Dropping reply for evicted request")
		return
	}

	if s.onEvent != nil {
		s.onEvent(msg)
	}
}

// heartbeatLoop writes the empty-array heartbeat on a fixed cadence so the
// server keeps the connection open.
func (s *socket) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.write(heartbeatFrame); err != nil {
				log.Warn().Err(err).Str("socket", s.name).Msg("Failed to send stream heartbeat")
				return
			}
			metrics.RecordHeartbeat(s.name)
		case <-s.done:
			return
		}
	}
}

func (s *socket) shutdown(err error) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		metrics.SetSocketConnected(s.name, false)
		if s.onClose != nil && !s.userClosed.Load() {
			go s.onClose(err)
		}
	})
}

// Close tears the connection down without notifying the close handler, so
// deliberate disconnects do not trigger reconnect attempts.
func (s *socket) Close() {
	s.userClosed.Store(true)
	s.shutdown(nil)
	s.wg.Wait()
}

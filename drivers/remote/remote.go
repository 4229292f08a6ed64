// Package remote implements sqlpool.RawSession over a WebSocket connection
// to a remote SQL gateway. Each Session owns one WebSocket and one
// in-flight request at a time, matching a PoolMember's exclusive-ownership
// contract; the pool itself provides the concurrency.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jlucas-labs/sqlpool/internal/backoff"
	"github.com/jlucas-labs/sqlpool/internal/dsn"
	"github.com/jlucas-labs/sqlpool/pkg/sqlpool"
)

func init() {
	sqlpool.RegisterDriver("remote", func(parsed *dsn.Parsed) (sqlpool.RawSessionFactory, sqlpool.TransientClassifier, error) {
		return Factory(Config{
			Endpoint: dsn.Endpoint(parsed),
			APIKey:   parsed.Params["apiKey"],
		}), Classifier, nil
	})
}

// Message is the wire envelope exchanged with the gateway.
type Message struct {
	Type   string                 `json:"type"`
	ID     string                 `json:"id"`
	SQL    string                 `json:"sql,omitempty"`
	Params []interface{}          `json:"params,omitempty"`
	Data   interface{}            `json:"data,omitempty"`
	Error  map[string]interface{} `json:"error,omitempty"`
}

type pending struct {
	responseCh chan interface{}
	errorCh    chan error
}

// Session is a gorilla/websocket connection to a remote SQL gateway,
// satisfying sqlpool.RawSession.
type Session struct {
	conn *websocket.Conn

	mu       sync.Mutex
	handlers map[string]*pending
	closed   bool
	closeCh  chan struct{}
}

// Config configures a Factory.
type Config struct {
	// Endpoint is the gateway's http(s) base URL; on dial its scheme is
	// switched to ws(s) and "/sql" is appended.
	Endpoint string
	APIKey   string
	// DialTimeout bounds a single dial attempt. Default: 10s.
	DialTimeout time.Duration
	// Backoff configures reconnect retry. Defaults to backoff.NewStrategy(nil).
	Backoff *backoff.Options
}

// Factory builds a sqlpool.RawSessionFactory that dials Config.Endpoint,
// retrying transient dial failures with exponential backoff.
func Factory(cfg Config) sqlpool.RawSessionFactory {
	strategy := backoff.NewStrategy(cfg.Backoff)
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	wsURL := toWebSocketURL(cfg.Endpoint)

	return func(ctx context.Context) (sqlpool.RawSession, error) {
		var sess *Session
		err := strategy.Dial(ctx, func(dialCtx context.Context) error {
			dialCtx, cancel := context.WithTimeout(dialCtx, dialTimeout)
			defer cancel()

			header := make(map[string][]string)
			if cfg.APIKey != "" {
				header["Authorization"] = []string{"Bearer " + cfg.APIKey}
			}
			conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, header)
			if err != nil {
				return fmt.Errorf("remote: dial failed: %w", err)
			}
			sess = newSession(conn)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

func toWebSocketURL(endpoint string) string {
	wsURL := endpoint
	switch {
	case len(wsURL) > 7 && wsURL[:7] == "http://":
		wsURL = "ws://" + wsURL[7:]
	case len(wsURL) > 8 && wsURL[:8] == "https://":
		wsURL = "wss://" + wsURL[8:]
	}
	return wsURL + "/sql"
}

func newSession(conn *websocket.Conn) *Session {
	s := &Session{
		conn:     conn,
		handlers: make(map[string]*pending),
		closeCh:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Exec sends query+args to the gateway and waits for its acknowledgement.
func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.roundTrip(ctx, Message{Type: "exec", SQL: query, Params: args})
	return err
}

// Rollback asks the gateway to roll back whatever Exec calls ran since the
// last Rollback, matching the pool's release protocol.
func (s *Session) Rollback(ctx context.Context) error {
	_, err := s.roundTrip(ctx, Message{Type: "rollback"})
	return err
}

// Close stops the read loop and closes the underlying WebSocket.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Session) roundTrip(ctx context.Context, msg Message) (interface{}, error) {
	msg.ID = nextID()

	p := &pending{responseCh: make(chan interface{}, 1), errorCh: make(chan error, 1)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("remote: session closed")
	}
	s.handlers[msg.ID] = p
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.handlers, msg.ID)
		s.mu.Unlock()
	}()

	s.mu.Lock()
	err := s.conn.WriteJSON(msg)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("connection reset: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closeCh:
		return nil, fmt.Errorf("remote: session closed while awaiting response")
	case err := <-p.errorCh:
		return nil, err
	case resp := <-p.responseCh:
		return resp, nil
	}
}

func (s *Session) readLoop() {
	for {
		var msg Message
		err := s.conn.ReadJSON(&msg)
		if err != nil {
			return
		}

		s.mu.Lock()
		p, ok := s.handlers[msg.ID]
		s.mu.Unlock()
		if !ok {
			continue
		}

		if msg.Error != nil {
			body, _ := json.Marshal(msg.Error)
			p.errorCh <- fmt.Errorf("remote: gateway error: %s", body)
			continue
		}
		p.responseCh <- msg.Data
	}
}

var idCounter uint64

func nextID() string {
	n := atomic.AddUint64(&idCounter, 1)
	return fmt.Sprintf("msg_%d", n)
}

// isTransientErrorBody inspects a JSON-marshaled gateway error body for a
// "code" field matching a known-transient class, used by Classifier below.
func isTransientErrorBody(body map[string]interface{}) bool {
	code, _ := body["code"].(string)
	switch code {
	case "CONNECTION_ERROR", "TIMEOUT_ERROR", "RESOURCE_LIMIT":
		return true
	default:
		return false
	}
}

// Classifier implements sqlpool.TransientClassifier for errors raised by
// this package: network-level failures (dial refused/reset, read/write
// timeouts) are transient, and gateway error bodies are consulted for a
// known-transient error code.
var Classifier sqlpool.TransientClassifierFunc = func(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{"connection refused", "connection reset", "i/o timeout", "EOF", "broken pipe", "context deadline exceeded"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	var body map[string]interface{}
	if i := strings.Index(msg, "{"); i >= 0 {
		if jsonErr := json.Unmarshal([]byte(msg[i:]), &body); jsonErr == nil {
			return isTransientErrorBody(body)
		}
	}
	return false
}

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// ErrDisconnected is returned to waiters once the connection is gone.
var ErrDisconnected = errors.New("status subscriber disconnected")

const (
	channelSwapUpdate = "swap.update"

	defaultPingInterval = 15 * time.Second
	writeWait           = 10 * time.Second
	maxMessageSize      = 1 << 20
)

// Update is one status update for a swap.
type Update struct {
	ID            string       `json:"id"`
	Status        Status       `json:"status"`
	FailureReason string       `json:"failureReason,omitempty"`
	Transaction   *Transaction `json:"transaction,omitempty"`
}

// Transaction is attached to updates that concern an on-chain transaction.
type Transaction struct {
	ID  string `json:"id"`
	Hex string `json:"hex,omitempty"`
}

type request struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Args    []string `json:"args"`
}

type message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// swapState is the buffered view of one swap. changed is closed and
// replaced on every update so waiters can select on it.
type swapState struct {
	best    Status
	failed  *FailedError
	changed chan struct{}
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Subscriber) { s.pingInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Subscriber) { s.log = l }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Subscriber) { s.dialer = d }
}

// WithUpdateHandler registers fn to be called for every update received.
// fn runs on the read goroutine and must not block.
func WithUpdateHandler(fn func(Update)) Option {
	return func(s *Subscriber) { s.onUpdate = fn }
}

// Subscriber holds one websocket connection to the swap service and buffers
// the latest status of every swap it has seen.
type Subscriber struct {
	conn         *websocket.Conn
	dialer       *websocket.Dialer
	log          *logging.Logger
	pingInterval time.Duration
	onUpdate     func(Update)

	writeMu sync.Mutex

	mu         sync.Mutex
	swaps      map[string]*swapState
	subscribed map[string]bool
	closed     bool
	closeErr   error

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the status channel at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Subscriber, error) {
	s := &Subscriber{
		dialer:       websocket.DefaultDialer,
		pingInterval: defaultPingInterval,
		swaps:        make(map[string]*swapState),
		subscribed:   make(map[string]bool),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDefault(s.log, "status")
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial status channel: %w", err)
	}
	s.conn = conn
	s.conn.SetReadLimit(maxMessageSize)

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	s.log.Debug("Status channel connected", "url", url)
	return s, nil
}

// Subscribe sends a subscription for ids that are not subscribed yet.
// Updates are buffered from this point on.
func (s *Subscriber) Subscribe(ids ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrDisconnected
	}
	var fresh []string
	for _, id := range ids {
		if !s.subscribed[id] {
			s.subscribed[id] = true
			s.stateLocked(id)
			fresh = append(fresh, id)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return s.writeJSON(request{Op: "subscribe", Channel: channelSwapUpdate, Args: fresh})
}

// SubscribeToSwapUntil blocks until the swap has reached target or a later
// lifecycle status. It returns at once when that already happened, a
// *FailedError when the swap failed, ErrDisconnected when the connection
// closed, or ctx.Err().
func (s *Subscriber) SubscribeToSwapUntil(ctx context.Context, id string, target Status) error {
	if err := s.Subscribe(id); err != nil {
		return err
	}

	s.mu.Lock()
	for {
		st := s.stateLocked(id)
		switch {
		case st.best != "" && st.best.Reached(target):
			s.mu.Unlock()
			return nil
		case st.failed != nil:
			s.mu.Unlock()
			return st.failed
		case s.closed:
			err := s.closeErr
			s.mu.Unlock()
			return err
		}
		changed := st.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
}

// Disconnect closes the connection and releases every waiter. It is safe
// to call more than once.
func (s *Subscriber) Disconnect() error {
	s.shutdown(ErrDisconnected)

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()

	_ = s.conn.Close()
	s.wg.Wait()
	return nil
}

// stateLocked returns the state for id, creating it. Caller holds mu.
func (s *Subscriber) stateLocked(id string) *swapState {
	st, ok := s.swaps[id]
	if !ok {
		st = &swapState{changed: make(chan struct{})}
		s.swaps[id] = st
	}
	return st
}

func (s *Subscriber) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.closeErr = cause
		for _, st := range s.swaps {
			close(st.changed)
			st.changed = make(chan struct{})
		}
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscriber) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (s *Subscriber) readLoop() {
	defer s.wg.Done()

	readWait := s.pingInterval * 3
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("Status channel closed", "error", err)
			}
			s.shutdown(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		s.handleMessage(data)
	}
}

func (s *Subscriber) handleMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("Ignoring malformed status message", "error", err)
		return
	}

	switch msg.Event {
	case "update":
		if msg.Channel != "" && msg.Channel != channelSwapUpdate {
			return
		}
		var updates []Update
		if err := json.Unmarshal(msg.Args, &updates); err != nil {
			s.log.Debug("Ignoring malformed update", "error", err)
			return
		}
		for _, u := range updates {
			s.apply(u)
		}
	case "error":
		s.log.Warn("Status channel error", "args", string(msg.Args))
	}
}

func (s *Subscriber) apply(u Update) {
	if u.ID == "" || u.Status == "" {
		return
	}

	s.mu.Lock()
	st := s.stateLocked(u.ID)
	if u.Status.Rank() > st.best.Rank() {
		st.best = u.Status
	}
	if u.Status.IsFailure() && st.failed == nil {
		st.failed = &FailedError{SwapID: u.ID, Status: u.Status, Reason: u.FailureReason}
	}
	close(st.changed)
	st.changed = make(chan struct{})
	s.mu.Unlock()

	s.log.Debug("Swap update", "swap", u.ID, "status", u.Status)
	if !u.Status.IsKnown() {
		s.log.Debug("Unknown swap status", "swap", u.ID, "status", u.Status)
	}

	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}

func (s *Subscriber) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug("Ping failed", "error", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

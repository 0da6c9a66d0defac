package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Event is one item on a session's event stream: a streaming delta, a
// completion, or a terminal error (spec §4.A "per_session_stream").
type Event struct {
	Method string
	Params json.RawMessage
	Err    error
}

// sessionChannels holds the bounded channels one session reads from —
// one for backend-initiated requests (e.g. tool.call), one for streamed
// notifications (spec §4.A, §9: "one bounded channel per session").
type sessionChannels struct {
	requests chan Frame
	events   chan Event
	closed   atomic.Bool
}

const defaultSessionChannelSize = 64

// Demux owns one full-duplex JSON-RPC connection to an LLM backend and
// multiplexes it across N concurrently active sessions (spec §4.A). A
// single background reader goroutine is the sole frame consumer; no
// mutex is ever held across a channel send or I/O wait (spec §5).
type Demux struct {
	conn Conn

	mu       sync.Mutex
	pending  map[int64]chan Frame
	sessions map[string]*sessionChannels
	pendingCreates map[int64]chan Frame // keyed by the session.create request id

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New starts the Demux's background reader over conn.
func New(conn Conn) *Demux {
	d := &Demux{
		conn:           conn,
		pending:        make(map[int64]chan Frame),
		sessions:       make(map[string]*sessionChannels),
		pendingCreates: make(map[int64]chan Frame),
		closeCh:        make(chan struct{}),
	}
	d.wg.Add(1)
	go d.readLoop()
	return d
}

// Close shuts the connection down, failing every pending request and
// session channel with ErrTransportClosed (spec §4.A, §7).
func (d *Demux) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.closeCh)
	err := d.conn.Close()
	d.wg.Wait()
	return err
}

func (d *Demux) readLoop() {
	defer d.wg.Done()
	defer d.failEverything()
	defer func() {
		// The backend side is gone: stop accepting new work as Close does.
		if d.closed.CompareAndSwap(false, true) {
			close(d.closeCh)
			_ = d.conn.Close()
		}
	}()

	for {
		frame, err := d.conn.ReadFrame()
		if err != nil {
			return
		}
		d.dispatch(frame)
	}
}

func (d *Demux) dispatch(frame Frame) {
	switch Classify(frame) {
	case KindResponse:
		d.deliverResponse(frame)
	case KindRequest:
		d.routeRequest(frame)
	case KindNotification:
		d.routeNotification(frame)
	}
}

func (d *Demux) deliverResponse(frame Frame) {
	id, ok := toInt64(frame.ID)
	if !ok {
		return
	}
	d.mu.Lock()
	ch, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	createCh, createOK := d.pendingCreates[id]
	if createOK {
		delete(d.pendingCreates, id)
	}
	d.mu.Unlock()

	if ok {
		select {
		case ch <- frame:
		default:
		}
	}
	if createOK {
		select {
		case createCh <- frame:
		default:
		}
	}
}

func (d *Demux) routeRequest(frame Frame) {
	sessionID := extractSessionID(frame.Params)
	d.mu.Lock()
	sc, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok || sc.closed.Load() {
		return
	}
	select {
	case sc.requests <- frame:
	default:
		// Back-pressure: bounded channel full, request is dropped rather
		// than blocking the single reader (spec §5 locking discipline —
		// no suspension point inside dispatch).
	}
}

func (d *Demux) routeNotification(frame Frame) {
	if frame.Method == "session.start" {
		d.resolveSessionStart(frame)
		return
	}
	sessionID := extractSessionID(frame.Params)
	d.mu.Lock()
	sc, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok || sc.closed.Load() {
		return
	}
	select {
	case sc.events <- Event{Method: frame.Method, Params: frame.Params}:
	default:
	}
}

// session.start carries the request id it's resolving as well as the new
// session_id, so create_session callers can correlate it.
type sessionStartParams struct {
	RequestID int64  `json:"request_id"`
	SessionID string `json:"session_id"`
}

func (d *Demux) resolveSessionStart(frame Frame) {
	var sp sessionStartParams
	if err := json.Unmarshal(frame.Params, &sp); err != nil {
		return
	}
	d.mu.Lock()
	ch, ok := d.pendingCreates[sp.RequestID]
	if ok {
		delete(d.pendingCreates, sp.RequestID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	result, _ := json.Marshal(map[string]string{"session_id": sp.SessionID})
	select {
	case ch <- Frame{ID: sp.RequestID, Result: result}:
	default:
	}
}

func (d *Demux) failEverything() {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[int64]chan Frame)
	creates := d.pendingCreates
	d.pendingCreates = make(map[int64]chan Frame)
	sessions := d.sessions
	d.sessions = make(map[string]*sessionChannels)
	d.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, ch := range creates {
		close(ch)
	}
	for _, sc := range sessions {
		sc.closed.Store(true)
		close(sc.requests)
		close(sc.events)
	}
}

// CreateSession issues a session.create request and waits for the
// matching session.start notification (spec §4.A).
func (d *Demux) CreateSession(ctx context.Context, model, systemPrompt string) (string, error) {
	if d.closed.Load() {
		return "", ErrRouterStopped
	}

	id := d.nextID.Add(1)
	respCh := make(chan Frame, 1)
	d.mu.Lock()
	d.pendingCreates[id] = respCh
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pendingCreates, id)
		d.mu.Unlock()
	}()

	params, _ := json.Marshal(map[string]any{
		"model":         model,
		"system_prompt": systemPrompt,
		"request_id":    id,
	})
	if err := d.conn.WriteFrame(Frame{JSONRPC: "2.0", ID: id, Method: "session.create", Params: params}); err != nil {
		return "", fmt.Errorf("transport: write session.create: %w", err)
	}

	select {
	case frame, ok := <-respCh:
		if !ok {
			return "", ErrTransportClosed
		}
		if frame.Error != nil {
			return "", &ErrSessionError{Reason: frame.Error.Message}
		}
		var result struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(frame.Result, &result); err != nil {
			return "", &ErrSessionError{Reason: "malformed session.create result"}
		}
		d.registerSession(result.SessionID)
		return result.SessionID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.closeCh:
		return "", ErrTransportClosed
	}
}

func (d *Demux) registerSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[sessionID] = &sessionChannels{
		requests: make(chan Frame, defaultSessionChannelSize),
		events:   make(chan Event, defaultSessionChannelSize),
	}
}

// SendRequest enqueues one method call and blocks for the
// matching response (spec §4.A).
func (d *Demux) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if d.closed.Load() {
		return nil, ErrTransportClosed
	}
	id := d.nextID.Add(1)
	respCh := make(chan Frame, 1)
	d.mu.Lock()
	d.pending[id] = respCh
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if err := d.conn.WriteFrame(Frame{JSONRPC: "2.0", ID: id, Method: method, Params: raw}); err != nil {
		return nil, err
	}

	select {
	case frame, ok := <-respCh:
		if !ok {
			return nil, ErrTransportClosed
		}
		if frame.Error != nil {
			return nil, fmt.Errorf("transport: rpc error %d: %s", frame.Error.Code, frame.Error.Message)
		}
		return frame.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closeCh:
		return nil, ErrTransportClosed
	}
}

// SendResponse replies to a backend-initiated request (e.g. tool.call),
// per spec §4.A.
func (d *Demux) SendResponse(id any, result any, rpcErr *RPCError) error {
	if d.closed.Load() {
		return ErrTransportClosed
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return d.conn.WriteFrame(Frame{JSONRPC: "2.0", ID: id, Result: raw, Error: rpcErr})
}

// PerSessionStream returns the event channel for sessionID, or nil,false
// if the session is unknown.
func (d *Demux) PerSessionStream(sessionID string) (<-chan Event, bool) {
	d.mu.Lock()
	sc, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sc.events, true
}

// Requests returns the backend-initiated-request channel for sessionID.
func (d *Demux) Requests(sessionID string) (<-chan Frame, bool) {
	d.mu.Lock()
	sc, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sc.requests, true
}

// CloseSession releases a session's channels without closing the shared
// transport (spec §3 lifecycle: sessions are owned by the run that
// created them and released on termination).
func (d *Demux) CloseSession(sessionID string) {
	d.mu.Lock()
	sc, ok := d.sessions[sessionID]
	if ok {
		delete(d.sessions, sessionID)
	}
	d.mu.Unlock()
	if ok && sc.closed.CompareAndSwap(false, true) {
		close(sc.requests)
		close(sc.events)
	}
}

func toInt64(id any) (int64, bool) {
	switch v := id.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// NewCorrelationID is used by callers that need a client-side id
// (e.g. tool-call ids) independent of the transport's own request ids.
func NewCorrelationID() string { return uuid.NewString() }

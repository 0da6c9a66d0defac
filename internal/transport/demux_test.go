package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"
)

// pipeConn is an in-memory Conn pair used to drive the Demux in tests
// without a real subprocess, grounded on the teacher's approach of
// testing StdioTransport against an in-memory pipe.
type pipeConn struct {
	mu     sync.Mutex
	in     chan Frame
	out    chan Frame
	closed bool
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan Frame, 16), out: make(chan Frame, 16)}
}

func (p *pipeConn) ReadFrame() (Frame, error) {
	f, ok := <-p.in
	if !ok {
		return Frame{}, io.EOF
	}
	return f, nil
}

func (p *pipeConn) WriteFrame(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	p.out <- f
	return nil
}

func (p *pipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	return nil
}

// inject pushes a frame as if it arrived from the backend.
func (p *pipeConn) inject(f Frame) { p.in <- f }

// sent blocks for the next frame the Demux wrote to the backend.
func (p *pipeConn) sent(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-p.out:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return Frame{}
	}
}

func TestCreateSessionRoundTrip(t *testing.T) {
	conn := newPipeConn()
	d := New(conn)
	defer d.Close()

	done := make(chan struct{})
	var sessionID string
	var err error
	go func() {
		sessionID, err = d.CreateSession(context.Background(), "claude-sonnet-4-5", "be helpful")
		close(done)
	}()

	req := conn.sent(t)
	if req.Method != "session.create" {
		t.Fatalf("expected session.create, got %q", req.Method)
	}

	startParams, _ := json.Marshal(sessionStartParams{RequestID: req.ID.(int64), SessionID: "sess-1"})
	conn.inject(Frame{Method: "session.start", Params: startParams})

	<-done
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessionID != "sess-1" {
		t.Fatalf("expected sess-1, got %q", sessionID)
	}
}

func TestSendRequestDeliversResponse(t *testing.T) {
	conn := newPipeConn()
	d := New(conn)
	defer d.Close()

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := d.SendRequest(context.Background(), "model.generate", map[string]string{"prompt": "hi"})
		resultCh <- res
		errCh <- err
	}()

	req := conn.sent(t)
	resp := Frame{ID: req.ID, Result: json.RawMessage(`{"text":"hello"}`)}
	conn.inject(resp)

	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := <-resultCh
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(res, &parsed); err != nil || parsed.Text != "hello" {
		t.Fatalf("unexpected result: %s (err=%v)", res, err)
	}
}

func TestSendRequestContextCancellation(t *testing.T) {
	conn := newPipeConn()
	d := New(conn)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.SendRequest(ctx, "model.generate", map[string]string{})
		errCh <- err
	}()
	conn.sent(t) // drain the outbound write so SendRequest is parked on select
	cancel()

	if err := <-errCh; err != ctx.Err() {
		t.Fatalf("expected context cancellation error, got %v", err)
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	conn := newPipeConn()
	d := New(conn)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.SendRequest(context.Background(), "model.generate", map[string]string{})
		errCh <- err
	}()
	conn.sent(t)

	d.Close()

	if err := <-errCh; err != ErrTransportClosed {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestCreateSessionAfterCloseReturnsRouterStopped(t *testing.T) {
	conn := newPipeConn()
	d := New(conn)
	d.Close()

	_, err := d.CreateSession(context.Background(), "m", "s")
	if err != ErrRouterStopped {
		t.Fatalf("expected ErrRouterStopped, got %v", err)
	}
}

func TestRouteRequestToOwningSession(t *testing.T) {
	conn := newPipeConn()
	d := New(conn)
	defer d.Close()

	d.registerSession("sess-1")
	reqCh, ok := d.Requests("sess-1")
	if !ok {
		t.Fatal("expected session to be registered")
	}

	params, _ := json.Marshal(toolCallParams{SessionID: "sess-1", ID: int64(7), Name: "read_file"})
	conn.inject(Frame{ID: int64(7), Method: "tool.call", Params: params})

	select {
	case f := <-reqCh:
		if f.Method != "tool.call" {
			t.Fatalf("expected tool.call, got %q", f.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for routed request")
	}
}

func TestRouteNotificationToOwningSession(t *testing.T) {
	conn := newPipeConn()
	d := New(conn)
	defer d.Close()

	d.registerSession("sess-1")
	events, ok := d.PerSessionStream("sess-1")
	if !ok {
		t.Fatal("expected session to be registered")
	}

	params, _ := json.Marshal(sessionParams{SessionID: "sess-1"})
	conn.inject(Frame{Method: "stream.delta", Params: params})

	select {
	case ev := <-events:
		if ev.Method != "stream.delta" {
			t.Fatalf("expected stream.delta, got %q", ev.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for routed event")
	}
}

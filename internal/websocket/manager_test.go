package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/conneroisu/tally/internal/renderer"
)

type event struct {
	path      []int
	eventType string
	payload   any
}

type fakeSource struct {
	mu     sync.Mutex
	html   string
	frame  uint64
	events []event
}

func (f *fakeSource) SnapshotFrame() (string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.html, f.frame, nil
}

func (f *fakeSource) HandleEvent(_ context.Context, path []int, eventType string, payload any) (renderer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{path: path, eventType: eventType, payload: payload})
	return renderer.Result{}, nil
}

func (f *fakeSource) received() []event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event(nil), f.events...)
}

func (f *fakeSource) set(html string, frame uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html, f.frame = html, frame
}

// gatedSource holds SnapshotFrame calls while its gate is closed, which
// keeps the hub busy.
type gatedSource struct {
	*fakeSource
	gateMu  sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedSource) hold() {
	g.gateMu.Lock()
	defer g.gateMu.Unlock()
	g.gate = make(chan struct{})
}

func (g *gatedSource) release() {
	g.gateMu.Lock()
	defer g.gateMu.Unlock()
	close(g.gate)
	g.gate = nil
}

func (g *gatedSource) SnapshotFrame() (string, uint64, error) {
	g.gateMu.Lock()
	gate := g.gate
	g.gateMu.Unlock()
	if gate != nil {
		g.entered <- struct{}{}
		<-gate
	}
	return g.fakeSource.SnapshotFrame()
}

func setupManager(t *testing.T, opts Options) (*Manager, string) {
	t.Helper()
	m := NewManager(opts)
	srv := httptest.NewServer(http.HandlerFunc(m.HandleWebSocket))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Shutdown(ctx)
		srv.Close()
	})
	return m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func write(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
}

func TestSnapshotThenPatches(t *testing.T) {
	src := &fakeSource{html: "<div>count: 2</div>", frame: 2}
	m, url := setupManager(t, Options{Source: src})
	conn := dial(t, url)

	snap := readFrame(t, conn)
	assert.Equal(t, FrameSnapshot, snap.Type)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, "<div>count: 2</div>", snap.HTML)
	require.Eventually(t, func() bool { return m.ConnectedClients() == 1 }, time.Second, time.Millisecond)

	text := &html.Node{Type: html.TextNode, Data: "count: 3"}
	el := &html.Node{Type: html.ElementNode, Data: "p"}
	el.AppendChild(&html.Node{Type: html.TextNode, Data: "x"})

	// Frame 2 is already part of the snapshot.
	m.Publish(2, []renderer.Change{{Path: []int{0, 0}, Node: text}})
	m.Publish(3, []renderer.Change{{Path: []int{0, 0}, Node: text}, {Path: []int{1}, Node: el}})

	patch := readFrame(t, conn)
	assert.Equal(t, FramePatch, patch.Type)
	assert.Equal(t, uint64(3), patch.Seq)
	assert.Equal(t, []FrameChange{
		{Path: []int{0, 0}, Kind: "text", Text: "count: 3"},
		{Path: []int{1}, Kind: "element", HTML: "<p>x</p>"},
	}, patch.Changes)
}

func TestFullQueueResyncsClients(t *testing.T) {
	src := &gatedSource{fakeSource: &fakeSource{html: "<div>0</div>"}, entered: make(chan struct{}, 1)}
	m, url := setupManager(t, Options{Source: src})
	conn := dial(t, url)
	require.Equal(t, uint64(0), readFrame(t, conn).Seq)
	require.Eventually(t, func() bool { return m.ConnectedClients() == 1 }, time.Second, time.Millisecond)

	// The hub stalls registering a second client while frames pile up.
	src.hold()
	dial(t, url)
	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never asked for a snapshot")
	}

	text := &html.Node{Type: html.TextNode, Data: "n"}
	last := uint64(cap(m.broadcast) + 1)
	for seq := uint64(1); seq <= last; seq++ {
		m.Publish(seq, []renderer.Change{{Path: []int{0, 0}, Node: text}})
	}
	src.set("<div>latest</div>", last)
	src.release()

	f := readFrame(t, conn)
	assert.Equal(t, FrameSnapshot, f.Type)
	assert.Equal(t, last, f.Seq)
	assert.Equal(t, "<div>latest</div>", f.HTML)
	require.Eventually(t, func() bool { return m.ConnectedClients() == 2 }, time.Second, time.Millisecond)
}

func TestClientEvents(t *testing.T) {
	src := &fakeSource{html: "<div></div>"}
	_, url := setupManager(t, Options{Source: src})
	conn := dial(t, url)
	readFrame(t, conn)

	write(t, conn, `{"path":[0,1],"type":"click"}`)
	write(t, conn, `{"path":[0,2],"type":"input","payload":{"value":"12.50"}}`)

	require.Eventually(t, func() bool { return len(src.received()) == 2 }, 2*time.Second, time.Millisecond)
	got := src.received()
	assert.Equal(t, event{path: []int{0, 1}, eventType: "click"}, got[0])
	assert.Equal(t, []int{0, 2}, got[1].path)
	assert.Equal(t, map[string]any{"value": "12.50"}, got[1].payload)
}

func TestMalformedClientEvent(t *testing.T) {
	src := &fakeSource{html: "<div></div>"}
	m, url := setupManager(t, Options{Source: src})
	conn := dial(t, url)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return m.ConnectedClients() == 1 }, time.Second, time.Millisecond)

	write(t, conn, `{"type":"click"}`)

	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "path")
	assert.Empty(t, src.received())
}

func TestOriginRejected(t *testing.T) {
	m := NewManager(Options{Source: &fakeSource{}, Origins: OriginList{"http://localhost:8080"}})
	defer m.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	m.HandleWebSocket(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitedClientIsClosed(t *testing.T) {
	src := &fakeSource{html: "<div></div>"}
	_, url := setupManager(t, Options{
		Source:     src,
		NewLimiter: func() RateLimiter { return NewSlidingWindowLimiter(2, time.Minute) },
	})
	conn := dial(t, url)
	readFrame(t, conn)

	for i := 0; i < 3; i++ {
		write(t, conn, `{"path":[0],"type":"click"}`)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Len(t, src.received(), 2)
}

func TestSlidingWindowLimiter(t *testing.T) {
	l := NewSlidingWindowLimiter(2, time.Second)
	now := time.Unix(100, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.Allow())

	l.Reset()
	assert.True(t, l.Allow())
}

func TestOriginList(t *testing.T) {
	tests := []struct {
		name    string
		list    OriginList
		origin  string
		allowed bool
	}{
		{"exact match", OriginList{"http://localhost:8080"}, "http://localhost:8080", true},
		{"path ignored", OriginList{"http://localhost:8080"}, "http://localhost:8080/app", true},
		{"other port", OriginList{"http://localhost:8080"}, "http://localhost:9090", false},
		{"wildcard", OriginList{"*"}, "https://anything.example", true},
		{"garbage", OriginList{"http://localhost:8080"}, "::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.list.IsAllowedOrigin(tt.origin))
		})
	}
}

func TestShutdown(t *testing.T) {
	src := &fakeSource{html: "<div></div>"}
	m, url := setupManager(t, Options{Source: src})
	conn := dial(t, url)
	readFrame(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Zero(t, m.ConnectedClients())

	rec := httptest.NewRecorder()
	m.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// Package transport carries signaling text over a gorilla WebSocket. A
// WebSocket is single-use: one Open, then exactly one terminal event.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/sorasig/internal/conn"
	"github.com/1ureka/sorasig/internal/util"
)

const (
	DefaultPingPeriod       = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	writeWait = 10 * time.Second // deadline for a single frame write
	closeWait = 2 * time.Second  // how long to wait for the server's close reply
)

// ErrNotOpen is returned by Send before the connection is established or
// after it has gone away.
var ErrNotOpen = errors.New("websocket is not open")

// Options tunes the WebSocket transport. The zero value is usable.
type Options struct {
	// PingPeriod is the keepalive interval. Negative disables pings.
	PingPeriod       time.Duration
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Factory returns a conn.TransportFactory producing WebSockets with opts.
func Factory(opts Options) conn.TransportFactory {
	return func(sink conn.TransportSink) conn.Transport {
		return New(sink, opts)
	}
}

// WebSocket implements conn.Transport.
type WebSocket struct {
	sink conn.TransportSink
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // guards ws, opened, closing and frame writes
	ws      *websocket.Conn
	opened  bool
	closing bool

	terminal sync.Once
}

var _ conn.Transport = (*WebSocket)(nil)

// New creates an unopened WebSocket bound to sink.
func New(sink conn.TransportSink, opts Options) *WebSocket {
	if opts.PingPeriod == 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocket{sink: sink, opts: opts, ctx: ctx, cancel: cancel}
}

// Open starts dialing url in the background.
func (w *WebSocket) Open(url string) {
	w.mu.Lock()
	if w.opened || w.closing {
		w.mu.Unlock()
		return
	}
	w.opened = true
	w.mu.Unlock()

	go w.run(url)
}

// Send writes one text frame.
func (w *WebSocket) Send(text []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ws == nil || w.closing {
		return ErrNotOpen
	}
	_ = w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.ws.WriteMessage(websocket.TextMessage, text); err != nil {
		return err
	}
	util.Stats.AddSent(len(text))
	return nil
}

// Close starts the close handshake. The terminal event follows once the
// server replies or closeWait elapses.
func (w *WebSocket) Close() {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.closing = true
	ws, opened := w.ws, w.opened
	w.mu.Unlock()

	w.cancel()

	if !opened {
		w.emitClosed(websocket.CloseNormalClosure, "", true)
		return
	}
	if ws == nil {
		// Still dialing; run observes the cancelled context.
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		util.LogDebug("websocket: close frame: %v", err)
		ws.Close()
		return
	}
	time.AfterFunc(closeWait, func() { ws.Close() })
}

func (w *WebSocket) run(url string) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.opts.HandshakeTimeout,
	}

	util.Stats.AddDial()
	util.LogDebug("websocket: dialing %s", url)
	ws, _, err := dialer.DialContext(w.ctx, url, w.opts.Header)
	if err != nil {
		if w.ctx.Err() != nil {
			w.emitClosed(websocket.CloseNormalClosure, "", true)
			return
		}
		w.emitFailed(fmt.Errorf("dial %s: %w", url, err))
		return
	}

	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		ws.Close()
		w.emitClosed(websocket.CloseNormalClosure, "", true)
		return
	}
	w.ws = ws
	w.mu.Unlock()

	ws.SetPongHandler(func(appData string) error {
		w.sink.TransportPong([]byte(appData))
		return nil
	})

	w.sink.TransportOpened()

	if w.opts.PingPeriod > 0 {
		go w.keepalive(ws)
	}
	w.readPump(ws)
}

// readPump delivers frames until the connection ends, then reports the
// terminal event.
func (w *WebSocket) readPump(ws *websocket.Conn) {
	defer ws.Close()

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			w.readFailed(err)
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		util.Stats.AddRecv(len(data))
		w.sink.TransportMessage(data)
	}
}

func (w *WebSocket) readFailed(err error) {
	w.mu.Lock()
	closing := w.closing
	w.mu.Unlock()

	var ce *websocket.CloseError
	if errors.As(err, &ce) && !(closing && ce.Code == websocket.CloseAbnormalClosure) {
		util.LogDebug("websocket: closed by server: %d %s", ce.Code, ce.Text)
		w.emitClosed(ce.Code, ce.Text, ce.Code != websocket.CloseAbnormalClosure)
		return
	}

	if closing {
		// Local close without a reply from the server.
		w.emitClosed(websocket.CloseNormalClosure, "", false)
		return
	}
	w.emitFailed(err)
}

func (w *WebSocket) keepalive(ws *websocket.Conn) {
	ticker := time.NewTicker(w.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				util.LogDebug("websocket: ping: %v", err)
				return
			}
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *WebSocket) emitClosed(code int, reason string, clean bool) {
	w.terminal.Do(func() {
		w.cancel()
		w.sink.TransportClosed(code, reason, clean)
	})
}

func (w *WebSocket) emitFailed(err error) {
	w.terminal.Do(func() {
		w.cancel()
		util.LogDebug("websocket: %v", err)
		w.sink.TransportFailed(err)
	})
}

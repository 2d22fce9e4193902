package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/tableroom/internal/platform/timeouts"
)

// Socket is the part of *websocket.Conn the manager drives.
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Socket.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Socket, error)
}

// DialerFunc adapts a dial function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Socket, error)

// DialContext implements Dialer for DialerFunc.
func (fn DialerFunc) DialContext(ctx context.Context, url string, header http.Header) (Socket, error) {
	return fn(ctx, url, header)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// NewWebsocketDialer returns a dialer with the shared handshake timeout.
func NewWebsocketDialer() WebsocketDialer {
	return WebsocketDialer{Dialer: &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  timeouts.Handshake,
		EnableCompression: true,
	}}
}

// DialContext implements Dialer. Handshake rejections include the response
// status and a bounded prefix of the body.
func (d WebsocketDialer) DialContext(ctx context.Context, url string, header http.Header) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("websocket handshake %s: %w: %s", resp.Status, err, body)
		}
		return nil, err
	}
	return c, nil
}

// Scheduler runs f once after d. The returned func cancels a pending run.
type Scheduler func(d time.Duration, f func()) (cancel func() bool)

// AfterFunc is the Scheduler backed by time.AfterFunc.
func AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// IsNormalClosure reports whether err is a clean close initiated with
// websocket.CloseNormalClosure. Anything else counts as abnormal.
func IsNormalClosure(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure
	}
	return false
}

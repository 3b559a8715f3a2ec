// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/db47h/flipflop"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	send chan []byte // holds at most the latest frame
}

// A Hub is an http.Handler that upgrades requests to websockets and
// broadcasts frames to all connected renderers.
//
// Slow receivers never block the broadcaster: a frame that was not sent yet
// is replaced by the next one.
//
type Hub struct {
	log      *logrus.Entry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
}

// NewHub returns a new hub. If log is nil, the standard logrus logger is
// used.
//
func NewHub(log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		log:     log.WithField("component", "stream"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
//
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// post queues msg on c, replacing any pending message.
//
func (c *client) post(msg []byte) {
	for {
		select {
		case c.send <- msg:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

// Broadcast sends frame f to every client. New clients receive the last
// broadcast frame on connection. It is safe to use as a Core.OnPublish
// callback.
//
func (h *Hub) Broadcast(f *flipflop.Frame) {
	msg := Encode(f)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = msg
	for c := range h.clients {
		c.post(msg)
	}
}

// ServeHTTP implements http.Handler.
//
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 1)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.post(h.last)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "clients": n}).Info("renderer connected")

	go h.write(c)
	// renderers do not send anything; reading detects disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
	h.log.WithField("remote", r.RemoteAddr).Info("renderer disconnected")
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) write(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			h.log.WithError(err).Debug("write failed")
			h.drop(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// Close disconnects all clients. Connections attempted after Close are
// rejected.
//
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	cs := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.Unlock()
	for _, c := range cs {
		h.drop(c)
	}
}

// A Client receives frames from a Hub.
//
type Client struct {
	conn   *websocket.Conn
	layout flipflop.Layout
}

// Dial connects to the hub at url (ws:// or wss://). Received frames must
// use layout l.
//
func Dial(ctx context.Context, url string, l flipflop.Layout) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &Client{conn: conn, layout: l}, nil
}

// Next blocks until the next frame is received.
//
func (c *Client) Next() (*flipflop.Frame, error) {
	for {
		mt, b, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return Decode(b, c.layout)
	}
}

// Close closes the connection.
//
func (c *Client) Close() error {
	return c.conn.Close()
}

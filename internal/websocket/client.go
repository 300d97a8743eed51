// Wayfarer - Real-time Trip Presence and Companion Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wayfarer

// Package websocket adapts gorilla/websocket connections to hub.Peer.
//
// A Client owns one connection. Outbound frames go through a bounded queue
// drained by a single write pump, which also sends keep-alive pings. Inbound
// frames are read by whoever calls ReadMessage, normally hub.Serve.
package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/wayfarer/internal/config"
	"github.com/tomtom215/wayfarer/internal/hub"
	"github.com/tomtom215/wayfarer/internal/logging"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 8192
	defaultSendBuffer     = 256
)

// Client is a hub.Peer backed by a websocket connection.
type Client struct {
	id   uint64
	conn *websocket.Conn
	opts config.HubConfig

	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ hub.Peer = (*Client)(nil)

// NewClient wraps conn and starts its write pump. Zero fields in opts take
// the package defaults.
func NewClient(conn *websocket.Conn, opts config.HubConfig) *Client {
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}

	c := &Client{
		id:   hub.NextConnID(),
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
	}

	conn.SetReadLimit(opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.writePump()
	return c
}

// ID returns the connection's process-unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Send queues payload for the write pump without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return hub.ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return hub.ErrSendBufferFull
	}
}

// ReadMessage blocks for the next data frame. Any read error ends the
// connection, so callers should stop reading on the first one.
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
			logging.Warn().Err(err).Uint64("conn_id", c.id).Msg("unexpected websocket close error")
		}
		return nil, err
	}
	return data, nil
}

// Close sends a close frame and tears the connection down. Frames still
// queued are dropped. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	deadline := time.Now().Add(c.opts.WriteWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}

// writePump is the only goroutine that writes data frames to conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case payload := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.fail(err, "failed to set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.fail(err, "failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.fail(err, "failed to write ping")
				return
			}
		}
	}
}

func (c *Client) fail(err error, msg string) {
	logging.Debug().Err(err).Uint64("conn_id", c.id).Msg(msg)
	_ = c.Close()
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	sendQueue    = 16
)

var _ models.NetConnection = (*Client)(nil)

// Client is one websocket connection. The reader and writer goroutines only
// touch conn, out and closed; everything else belongs to the tick goroutine.
type Client struct {
	id     models.ConnectionID
	conn   *websocket.Conn
	out    chan []byte
	closed atomic.Bool
	cancel context.CancelFunc
	logger log.Log

	pawn   *models.Actor
	levels map[string]bool
	batch  FrameMessage
}

func newClient(conn *websocket.Conn, cancel context.CancelFunc, logger log.Log) *Client {
	id := models.ConnectionID(uuid.NewString())
	return &Client{
		id:     id,
		conn:   conn,
		out:    make(chan []byte, sendQueue),
		cancel: cancel,
		logger: logger.With(log.String("client_id", string(id))),
		levels: make(map[string]bool),
		batch:  FrameMessage{Type: MessageFrame},
	}
}

func (c *Client) ID() models.ConnectionID { return c.id }

func (c *Client) IsClosed() bool { return c.closed.Load() }

func (c *Client) OwningActor() *models.Actor { return c.pawn }

func (c *Client) ViewTarget() *models.Actor { return c.pawn }

// IsLevelVisible treats the persistent level as always visible.
func (c *Client) IsLevelVisible(level string) bool {
	return level == "" || c.levels[level]
}

func (c *Client) CreateChannel(actor *models.Actor) models.Channel {
	if c.IsClosed() {
		return nil
	}
	return &actorChannel{client: c, actor: actor}
}

func (c *Client) setLevels(levels []string) {
	clear(c.levels)
	for _, l := range levels {
		c.levels[l] = true
	}
}

func (c *Client) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
		_ = c.conn.Close()
	}
}

// send queues b without blocking. A client whose queue is full is too slow to
// keep up and gets disconnected.
func (c *Client) send(b []byte) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		c.logger.Warn("client send queue full, disconnecting")
		c.close()
		return false
	}
}

// flush sends the batch collected during frame, if any.
func (c *Client) flush(frame uint32) {
	if c.batch.empty() {
		return
	}
	c.batch.Frame = frame
	b, err := json.Marshal(&c.batch)
	c.batch.reset()
	if err != nil {
		c.logger.Error("Failed to encode frame", log.Error(err))
		return
	}
	c.send(b)
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Debug("write failed", log.Error(err))
				c.close()
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, ErrServerNotRunning.Error(), http.StatusServiceUnavailable)
		return
	}
	if int(s.clientCount.Load()) >= s.cfg.Server.MaxClients {
		s.logger.Warn("Maximum clients reached, rejecting connection",
			log.String("remote_addr", r.RemoteAddr))
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", log.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := newClient(conn, cancel, s.logger)
	s.clientCount.Add(1)
	defer s.clientCount.Add(-1)
	defer client.close()

	go client.writeLoop(ctx)

	joined := make(chan error, 1)
	if err = s.submit(ctx, func() { joined <- s.join(client) }); err == nil {
		select {
		case err = <-joined:
		case <-s.done:
			err = ErrServerClosed
		}
	}
	if err != nil {
		client.logger.Warn("Client join failed", log.Error(err))
		return
	}

	client.logger.Info("Client connected",
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("total_clients", s.clientCount.Load()))

	s.readLoop(ctx, client)

	client.close()
	_ = s.submit(context.Background(), func() { s.leave(client) })
	client.logger.Info("Client disconnected")
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for ctx.Err() == nil {
		_ = client.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			client.logger.Warn("Failed to parse client message", log.Error(err))
			continue
		}
		cmd, err := s.commandFor(client, msg)
		if err != nil {
			client.logger.Warn("Unknown message type", log.String("type", msg.Type))
			continue
		}
		if err = s.submit(ctx, cmd); err != nil {
			return
		}
	}
}

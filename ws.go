/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Seednode/relaydraw/games/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sessionCookieName = "relaydraw_session"

	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	id      string
	session string
}

// hub owns every open websocket and is the game server's Outbox.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	log     zerolog.Logger
}

func newHub() *hub {
	return &hub{
		clients: make(map[string]*client),
		log:     log.With().Str("module", "ws").Logger(),
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
}

// Send queues msg for connID without blocking. A client whose queue is full
// is too slow to keep up; its message is dropped and its socket closed, which
// the game sees as an ordinary disconnect.
func (h *hub) Send(connID string, msg relay.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("conn", connID).Msg("marshal failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}

	select {
	case c.send <- data:
	default:
		h.log.Warn().Str("conn", connID).Msg("send buffer full, dropping client")
		_ = c.conn.Close()
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// closeAll disconnects every client.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, id)
	}
}

// sessionID returns the caller's session and, for a new session, the cookie
// that must be sent back with the upgrade response.
func sessionID(r *http.Request) (string, *http.Cookie) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String(), nil
		}
	}

	id := uuid.NewString()

	return id, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func serveWS(cfg *Config, game *relay.Server, h *hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		session, cookie := sessionID(r)

		var header http.Header
		if cookie != nil {
			header = http.Header{"Set-Cookie": {cookie.String()}}
		}

		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			h.log.Debug().Err(err).Str("remote", realIP(r)).Msg("upgrade failed")
			return
		}

		c := &client{
			conn:    conn,
			send:    make(chan []byte, sendBuffer),
			id:      uuid.NewString(),
			session: session,
		}
		rc := relay.Conn{ID: c.id, Session: c.session}

		h.add(c)

		logf(cfg, "SERVE: Websocket %s for session %s to %s", c.id, c.session, realIP(r))

		go c.writePump()

		resumed := game.Connect(rc)
		h.log.Debug().
			Str("conn", c.id).
			Str("session", c.session).
			Bool("resumed", resumed).
			Msg("connected")

		c.readPump(cfg, game, h, rc)
	}
}

func (c *client) readPump(cfg *Config, game *relay.Server, h *hub, rc relay.Conn) {
	defer func() {
		h.remove(c)
		game.Disconnect(rc)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("conn", c.id).Msg("read failed")
			}
			return
		}

		game.HandleRaw(rc, data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one live websocket connection. Its id is transient: a page
// refresh produces a brand-new client, and the join reconciliation re-binds
// the durable player record to it.
type client struct {
	conn *websocket.Conn
	send chan any
	id   ConnID
}

// Send implements Sender without blocking the session lock; a full buffer
// marks the connection dead.
func (c *client) Send(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(cfg *Config, g *Game) {
	defer func() {
		g.Disconnect(c.id)
		close(c.send)
		_ = c.conn.Close()
	}()

	ctx := context.Background()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join":
			g.Join(c, c.id, msg)
		case "toggle-ready":
			g.ToggleReady(c, c.id, msg.Code)
		case "select-grid":
			g.SelectGrid(c, c.id, msg.Code, msg.GridID)
		case "start":
			g.Start(ctx, c, c.id, msg.Code)
		case "submit-answer":
			if msg.Choice == nil {
				sendError(c, validationError("submit-answer requires a choice"))
				continue
			}
			g.SubmitAnswer(c, c.id, msg.Code, *msg.Choice)
		case "force-show-results":
			g.ForceShowResults(c, c.id, msg.Code)
		case "advance-round":
			g.Advance(ctx, c, c.id, msg.Code)
		default:
			logf(cfg, "GAMES: Ignoring unknown message type %q from %s", msg.Type, c.id)
		}
	}
}

func newConnID() ConnID {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return ConnID(hex.EncodeToString(buf))
}

func serveWS(cfg *Config, g *Game) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "GAMES: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan any, 16),
			id:   newConnID(),
		}

		logf(cfg, "GAMES: Connection %s opened from %s", c.id, realIP(r))

		go c.writePump()
		c.readPump(cfg, g)
	}
}

// servePlayPage is a joinable placeholder until a client app is pointed at
// the websocket endpoint.
func servePlayPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		code := p.ByName("code")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		io.WriteString(w, newPage("BluffGrid", "Session "+code))
	}
}

// qrHandler generates a PNG QR code for the current session URL.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing session code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:code/qr; strip trailing "/qr" to get the session URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewSession handles GET /play by generating a fresh session code
// and redirecting to /play/:code. The session itself is created on first
// join.
func redirectNewSession(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		code := generateSessionCode()
		logf(cfg, "GAMES: Created session %s/%s", path, code)
		http.Redirect(w, r, path+"/"+code, http.StatusTemporaryRedirect)
	}
}

// registerBluffGrid sets up routes so that:
//   - $path        → redirects to a fresh session code
//   - $path/:code  → HTML client placeholder
//   - $path/:code/qr → PNG QR code for that session URL
//   - /ws          → the shared realtime endpoint (session code travels in
//     each join event, so one socket can move between sessions)
func registerBluffGrid(cfg *Config, g *Game, path string, mux *httprouter.Router) {
	mux.GET(cfg.prefix+path, redirectNewSession(cfg, cfg.prefix+path))

	mux.GET(cfg.prefix+path+"/:code", servePlayPage(cfg))

	mux.GET(cfg.prefix+path+"/:code/qr", qrHandler)

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, g))
}

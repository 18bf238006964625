package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"campus/chat/internal/auth"
	"campus/chat/internal/chat"
	"campus/chat/internal/hub"
	"campus/chat/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Gateway upgrades HTTP requests to websocket connections and bridges them
// to the hub: inbound control commands, outbound event fan-out, and presence
// bookkeeping around the connection lifetime.
type Gateway struct {
	hub      *hub.Hub
	presence *hub.Registry
	chats    chat.ChatRepository
	notify   *notify.Service
	upgrader websocket.Upgrader

	jwtSecret string
	jwtIssuer string
}

func NewGateway(h *hub.Hub, presence *hub.Registry, chats chat.ChatRepository, notifySvc *notify.Service, jwtSecret, jwtIssuer string, allowedOrigins []string) *Gateway {
	allowedMap := make(map[string]bool)
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowedMap[origin] = true
	}

	return &Gateway{
		hub:      h,
		presence: presence,
		chats:    chats,
		notify:   notifySvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				return allowedMap[r.Header.Get("Origin")]
			},
		},
		jwtSecret: jwtSecret,
		jwtIssuer: jwtIssuer,
	}
}

// ServeHTTP handles GET /ws. The token comes from the Authorization header
// or, for browser clients that cannot set headers on websocket dials, the
// token query parameter.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		const prefix = "Bearer "
		if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
			token = h[len(prefix):]
		}
	}
	claims, err := auth.ParseToken(g.jwtSecret, g.jwtIssuer, token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	conn := g.hub.Register(claims.UserID)
	g.presence.Connect(claims.UserID, conn.ID)
	g.joinChatRooms(r.Context(), conn, claims.UserID)
	g.hub.Deliver(conn, hub.Event{Name: hub.EventPresenceSnapshot, Payload: g.presence.Snapshot()})

	go g.writePump(ws, conn)
	g.readPump(ws, conn)

	// readPump returned: the socket is gone. Presence is updated before the
	// hub unregister so a status query during teardown never sees a closed
	// connection counted as online.
	g.presence.Disconnect(claims.UserID, conn.ID)
	g.hub.Unregister(conn)
	_ = ws.Close()
}

// joinChatRooms subscribes the connection to every chat channel the user
// participates in, so message events arrive without an explicit subscribe.
func (g *Gateway) joinChatRooms(ctx context.Context, conn *hub.Conn, userID string) {
	chats, err := g.chats.ListChatsByUser(ctx, userID)
	if err != nil {
		log.Printf("ws: list chats for %s: %v", userID, err)
		return
	}
	for _, c := range chats {
		g.hub.Join(conn, c.ChannelID)
	}
}

func (g *Gateway) readPump(ws *websocket.Conn, conn *hub.Conn) {
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd hub.ClientCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read from %s: %v", conn.UserID, err)
			}
			return
		}
		g.handleCommand(conn, cmd)
	}
}

func (g *Gateway) handleCommand(conn *hub.Conn, cmd hub.ClientCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cmd.Action {
	case hub.ActionSubscribe:
		if cmd.Channel == "" {
			g.hub.Deliver(conn, hub.Event{Name: hub.EventError, Payload: hub.ErrorPayload{Code: "missing_channel"}})
			return
		}
		g.hub.Join(conn, hub.ChannelRoom(cmd.Channel))
	case hub.ActionUnsubscribe:
		if cmd.Channel == "" {
			g.hub.Deliver(conn, hub.Event{Name: hub.EventError, Payload: hub.ErrorPayload{Code: "missing_channel"}})
			return
		}
		g.hub.Leave(conn, hub.ChannelRoom(cmd.Channel))
	case hub.ActionMarkRead:
		if cmd.ID == "" {
			g.hub.Deliver(conn, hub.Event{Name: hub.EventError, Payload: hub.ErrorPayload{Code: "missing_id"}})
			return
		}
		if err := g.notify.MarkRead(ctx, conn.UserID, cmd.ID); err != nil {
			g.hub.Deliver(conn, hub.Event{Name: hub.EventError, Payload: hub.ErrorPayload{Code: "mark_read_failed"}})
		}
	case hub.ActionMarkAllRead:
		if _, err := g.notify.MarkAllRead(ctx, conn.UserID); err != nil {
			g.hub.Deliver(conn, hub.Event{Name: hub.EventError, Payload: hub.ErrorPayload{Code: "mark_all_read_failed"}})
		}
	case hub.ActionPing:
		g.hub.Deliver(conn, hub.Event{Name: hub.EventPong})
	default:
		g.hub.Deliver(conn, hub.Event{Name: hub.EventError, Payload: hub.ErrorPayload{Code: "unknown_action"}})
	}
}

func (g *Gateway) writePump(ws *websocket.Conn, conn *hub.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}

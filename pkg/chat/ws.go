package chat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsCloseTimeout   = time.Second
	wsMaxMessageSize = 64 * 1024
)

// wsConn adapts a gorilla connection to the Conn interface. Gorilla allows
// one concurrent writer, so writes are serialized here.
type wsConn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.NewString(), ws: ws}
}

func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return errors.Wrap(c.ws.WriteMessage(websocket.TextMessage, data), "ws write")
}

func (c *wsConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseTimeout),
	)
	c.writeMu.Unlock()
	return errors.Wrap(c.ws.Close(), "ws close")
}

// NewWSHandler upgrades GET /ws/chat/{roomID}?session=... requests and
// drives the coordinator from the connection's read loop. Rejection paths
// are fully handled inside OnConnect; the handler only skips the read loop.
func NewWSHandler(coord *Coordinator, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		roomID := req.PathValue("roomID")
		sessionID := strings.TrimSpace(req.URL.Query().Get("session"))
		if roomID == "" || sessionID == "" {
			http.Error(w, "room id and session are required", http.StatusBadRequest)
			return
		}

		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		ws.SetReadLimit(wsMaxMessageSize)
		conn := newWSConn(ws)
		wsLog := log.With().
			Str("component", "chat").
			Str("room_id", roomID).
			Str("session_id", sessionID).
			Str("remote", conn.RemoteAddr()).
			Logger()

		if err := coord.OnConnect(req.Context(), conn, roomID, sessionID); err != nil {
			wsLog.Info().Err(err).Msg("ws connection rejected")
			return
		}
		wsLog.Info().Msg("ws connected")

		go func() {
			defer wsLog.Info().Msg("ws disconnected")
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					closeCode := CloseNormal
					var ce *websocket.CloseError
					if errors.As(err, &ce) {
						closeCode = ce.Code
					}
					wsLog.Debug().Err(err).Int("close_code", closeCode).Msg("ws read loop end")
					if err := coord.OnDisconnect(context.Background(), conn, roomID, sessionID, closeCode); err != nil {
						wsLog.Error().Err(err).Msg("disconnect handling failed")
					}
					return
				}
				if err := coord.OnMessage(context.Background(), conn, roomID, sessionID, data); err != nil {
					wsLog.Warn().Err(err).Msg("message handling failed")
				}
			}
		}()
	}
}

package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/live"
	"storefront/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware and the bearer token.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type snapshotFrame[T any] struct {
	Type  string `json:"type"`
	Items []T    `json:"items"`
}

type endFrame struct {
	Type       string             `json:"type"`
	RedirectTo domain.Destination `json:"redirectTo,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// streamProducts pushes the full product list on connect and after every change.
func (a *api) streamProducts(c *gin.Context) {
	coll, err := a.deps.Products.Watch()
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer coll.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.WithError(err).Warn("stream: upgrade failed")
		return
	}
	pump(conn, coll, nil, a.closing, a.logger.WithField("stream", "products"))
}

// streamCart pushes the signed-in user's cart and ends the stream once the session is
// no longer allowed, e.g. after sign-out.
func (a *api) streamCart(c *gin.Context) {
	sc := currentSession(c)
	coll, err := a.deps.Cart.Watch(sc.User.ID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	defer coll.Close()

	ended := make(chan endFrame, 1)
	stop := a.deps.Guard.Watch(sc.Token, func(d session.Decision) {
		if d.Allow {
			return
		}
		select {
		case ended <- endFrame{Type: "ended", RedirectTo: d.RedirectTo, Message: d.Message}:
		default:
		}
	})
	defer stop()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.WithError(err).Warn("stream: upgrade failed")
		return
	}
	pump(conn, coll, ended, a.closing, a.logger.WithFields(logrus.Fields{"stream": "cart", "user_id": sc.User.ID}))
}

// pump writes a snapshot frame for every collection change until the client goes away,
// ended delivers a final frame, or closing is closed. It closes conn.
func pump[T any](conn *websocket.Conn, coll *live.Collection[T], ended <-chan endFrame, closing <-chan struct{}, log logrus.FieldLogger) {
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case _, ok := <-coll.Changed():
			if !ok {
				return
			}
			if err := writeJSON(conn, snapshotFrame[T]{Type: "snapshot", Items: coll.Snapshot()}); err != nil {
				log.WithError(err).Debug("stream: write failed")
				return
			}
		case frame := <-ended:
			_ = writeJSON(conn, frame)
			closeWith(conn, websocket.CloseNormalClosure, frame.Type)
			return
		case <-closing:
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

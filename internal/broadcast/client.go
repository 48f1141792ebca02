package broadcast

import (
	"context"
	"sync"
	"time"

	"andarbahar_service/internal/apperr"
	"andarbahar_service/internal/game"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
	requestTimeout = 5 * time.Second
)

// StateSource rebuilds a game's full state for resync.
type StateSource interface {
	Snapshot(ctx context.Context, gameID string) (*game.State, error)
}

// TokenVerifier checks an admin token and returns its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	states StateSource
	tokens TokenVerifier
	log    *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	once   sync.Once

	// read pump only
	userID string
	admin  bool
	games  map[string]struct{}
}

func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.conn.Close()
	})
}

func (c *Client) reply(typ string, gameID string, data any) {
	msg, err := Encode(typ, gameID, data)
	if err != nil {
		c.log.Error("encode reply failed", zap.String("type", typ), zap.Error(err))
		return
	}
	if !c.enqueue(msg) {
		c.log.Warn("dropped reply for slow client", zap.String("type", typ))
	}
}

func (c *Client) replyError(message string) {
	c.reply("error", "", ErrorMessage{Message: message})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("client read error", zap.Error(err))
			} else {
				c.log.Debug("client disconnected")
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("recovered from panic in message handler", zap.Any("panic", r))
		}
	}()

	env, msg, err := Decode(raw)
	if err != nil {
		c.replyError(err.Error())
		return
	}

	switch m := msg.(type) {
	case *Authenticate:
		c.authenticate(m)
	case *SubscribeGame:
		c.subscribe(m.GameID)
	case *UnsubscribeGame:
		c.hub.unsubscribe(c, m.GameID)
		delete(c.games, m.GameID)
		c.reply("unsubscribed", m.GameID, Unsubscribed{GameID: m.GameID})
	case *SyncRequest:
		c.sync(m.GameID)
	case *Ping:
		c.reply("pong", "", Pong{})
	case privileged:
		if !c.admin {
			c.replyError("Not authorized")
			return
		}
		c.log.Info("relaying operator message",
			zap.String("type", env.Type), zap.String("game_id", m.targetGame()), zap.String("user_id", c.userID))
		c.hub.broadcast(m.targetGame(), raw)
	default:
		c.replyError("Unsupported message")
	}
}

func (c *Client) authenticate(m *Authenticate) {
	admin := false
	if m.Token != "" {
		if c.tokens == nil {
			c.replyError("Invalid token")
			return
		}
		if _, err := c.tokens.Verify(m.Token); err != nil {
			c.replyError("Invalid token")
			return
		}
		admin = true
	}
	c.userID = m.UserID
	c.admin = admin
	c.log = c.log.With(zap.String("user_id", m.UserID))
	c.reply("authenticated", "", Authenticated{UserID: m.UserID, Admin: admin})
}

// subscribe registers with the hub before taking the snapshot, so an event
// published in between is delivered (possibly twice) rather than lost.
func (c *Client) subscribe(gameID string) {
	c.hub.subscribe(c, gameID)
	state, err := c.snapshot(gameID)
	if err != nil {
		if _, ok := c.games[gameID]; !ok {
			c.hub.unsubscribe(c, gameID)
		}
		c.replyError(apperr.Message(err))
		return
	}
	c.games[gameID] = struct{}{}
	c.reply("subscribed", gameID, Subscribed{GameID: gameID})
	c.reply("sync_game_state", gameID, SyncGameState{GameState: state})
}

func (c *Client) sync(gameID string) {
	state, err := c.snapshot(gameID)
	if err != nil {
		c.replyError(apperr.Message(err))
		return
	}
	c.reply("sync_game_state", gameID, SyncGameState{GameState: state})
}

func (c *Client) snapshot(gameID string) (*game.State, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return c.states.Snapshot(ctx, gameID)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Info("client write error", zap.Error(err))
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

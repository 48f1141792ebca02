package broadcast

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Server struct {
	hub      *Hub
	states   StateSource
	tokens   TokenVerifier
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer accepts websocket connections from origins; an empty list
// accepts any origin.
func NewServer(hub *Hub, states StateSource, tokens TokenVerifier, origins []string, log *zap.Logger) *Server {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Server{
		hub:    hub,
		states: states,
		tokens: tokens,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New().String()
	client := &Client{
		id:     id,
		conn:   conn,
		hub:    s.hub,
		states: s.states,
		tokens: s.tokens,
		log:    s.log.With(zap.String("client_id", id)),
		send:   make(chan []byte, sendBuffer),
		games:  make(map[string]struct{}),
	}
	s.hub.register(client)
	client.reply("connection", "", Connection{ClientID: id})
	client.log.Info("client connected", zap.String("remote", c.Request.RemoteAddr))

	go client.writePump()
	go client.readPump()
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handler      *Handler
	RequireAdmin gin.HandlerFunc
	WebSocket    gin.HandlerFunc
	CORSOrigins  []string
	Log          *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Log))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	if len(cfg.CORSOrigins) == 0 || cfg.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	r.Use(cors.New(corsCfg))

	h := cfg.Handler
	admin := cfg.RequireAdmin

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.WebSocket != nil {
		r.GET("/ws", cfg.WebSocket)
	}

	api := r.Group("/api")
	api.POST("/tables/:tableId/games", admin, h.CreateGame)
	api.GET("/history", h.History)

	games := api.Group("/games/:gameId")
	games.POST("/opening-card", admin, h.SetOpeningCard)
	games.POST("/bets", h.PlaceBet)
	games.GET("/bets", h.UserBets)
	games.POST("/cards", admin, h.DealCard)
	games.POST("/timer", admin, h.SetTimer)
	games.POST("/phase", admin, h.ForceAdvance)
	games.POST("/reset", admin, h.ForceReset)
	games.POST("/settle", admin, h.Settle)
	games.GET("/state", h.State)

	w := api.Group("/wallet")
	w.POST("/transaction", h.Transaction)
	w.GET("/balance/:player_id", h.Balance)

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/health" {
			return
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

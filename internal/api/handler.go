// Package api is the HTTP control surface: operator commands for the game
// lifecycle, bet admission, resync and history reads, and the wallet routes.
package api

import (
	"context"
	"net/http"
	"strconv"

	"andarbahar_service/internal/card"
	"andarbahar_service/internal/game"
	"andarbahar_service/internal/history"
	"andarbahar_service/internal/ledger"
	"andarbahar_service/internal/settlement"
	"andarbahar_service/internal/wallet"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

type BetReader interface {
	BetsForUser(ctx context.Context, gameID string, userID string) ([]ledger.Bet, error)
}

type Settler interface {
	Settle(ctx context.Context, gameID string) (*settlement.Report, error)
}

type Handler struct {
	games   *game.Manager
	bets    BetReader
	settler Settler
	history history.Repository
	wallet  *wallet.Service
	log     *zap.Logger
}

func NewHandler(games *game.Manager, bets BetReader, settler Settler, hist history.Repository, w *wallet.Service, log *zap.Logger) *Handler {
	return &Handler{games: games, bets: bets, settler: settler, history: hist, wallet: w, log: log}
}

type createGameRequest struct {
	OpeningCard string `json:"openingCard"`
}

type openingCardRequest struct {
	Card string `json:"card" binding:"required"`
}

type betRequest struct {
	UserID string          `json:"userId" binding:"required,max=64"`
	Side   string          `json:"side" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Round  int             `json:"round" binding:"required,oneof=1 2"`
}

type dealRequest struct {
	Card     string `json:"card" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Position int    `json:"position" binding:"gte=0"`
}

type timerRequest struct {
	Seconds *int `json:"seconds" binding:"required"`
}

type phaseRequest struct {
	Phase string `json:"phase"`
}

type resetRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CreateGame(c *gin.Context) {
	var req createGameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	tableID := c.Param("tableId")

	if req.OpeningCard == "" {
		g, err := h.games.CreateGame(c.Request.Context(), tableID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, g)
		return
	}

	cd, err := card.Parse(req.OpeningCard)
	if err != nil {
		h.fail(c, err)
		return
	}
	g, err := h.games.StartGame(c.Request.Context(), tableID, cd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) SetOpeningCard(c *gin.Context) {
	var req openingCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	cd, err := card.Parse(req.Card)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctrl, err := h.games.Controller(c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	g, err := ctrl.SetOpeningCard(c.Request.Context(), cd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) PlaceBet(c *gin.Context) {
	var req betRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	ctrl, err := h.games.Controller(c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := ctrl.AdmitBet(c.Request.Context(), req.UserID, ledger.Side(req.Side), req.Amount, req.Round)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bet": res.Bet, "aggregate": res.Aggregate})
}

func (h *Handler) UserBets(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		badRequest(c, "userId is required")
		return
	}
	bets, err := h.bets.BetsForUser(c.Request.Context(), c.Param("gameId"), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bets": bets})
}

func (h *Handler) DealCard(c *gin.Context) {
	var req dealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	cd, err := card.Parse(req.Card)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctrl, err := h.games.Controller(c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := ctrl.DealCard(c.Request.Context(), cd, ledger.Side(req.Side), req.Position)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"card": res.Card, "phase": res.Phase, "winner": res.Winner})
}

func (h *Handler) SetTimer(c *gin.Context) {
	var req timerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	ctrl, err := h.games.Controller(c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	g, err := ctrl.SetTimer(c.Request.Context(), *req.Seconds)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) ForceAdvance(c *gin.Context) {
	var req phaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	to := game.Phase(req.Phase)
	if req.Phase != "" {
		var ok bool
		if to, ok = game.ParsePhase(req.Phase); !ok {
			badRequest(c, "Invalid phase")
			return
		}
	}
	ctrl, err := h.games.Controller(c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	g, err := ctrl.ForceAdvance(c.Request.Context(), to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) ForceReset(c *gin.Context) {
	var req resetRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator reset"
	}
	ctrl, err := h.games.Controller(c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	g, err := ctrl.ForceReset(c.Request.Context(), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) Settle(c *gin.Context) {
	report, err := h.settler.Settle(c.Request.Context(), c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) State(c *gin.Context) {
	state, err := h.games.Snapshot(c.Request.Context(), c.Param("gameId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			badRequest(c, "Invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.history.List(c.Request.Context(), c.Query("tableId"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": entries})
}

func (h *Handler) Transaction(c *gin.Context) {
	var req wallet.TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	result, err := h.wallet.ProcessTransaction(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Balance(c *gin.Context) {
	w, err := h.wallet.GetBalance(c.Request.Context(), c.Param("player_id"), c.Query("type"), c.Query("currency"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": w})
}

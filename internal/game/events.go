package game

import (
	"andarbahar_service/internal/card"
	"andarbahar_service/internal/ledger"
	"github.com/shopspring/decimal"
)

// Event is a state change published to every subscriber of a game.
type Event interface {
	EventType() string
}

// EventSink must not block; it is called from the game's own goroutine.
type EventSink interface {
	Publish(gameID string, ev Event)
}

type NopSink struct{}

func (NopSink) Publish(string, Event) {}

type PhaseChange struct {
	Phase   Phase  `json:"phase"`
	Round   int    `json:"round"`
	Message string `json:"message"`
}

func (PhaseChange) EventType() string { return "phase_change" }

type TimerUpdate struct {
	Timer int   `json:"timer"`
	Phase Phase `json:"phase"`
}

func (TimerUpdate) EventType() string { return "timer_update" }

type CardDealt struct {
	Card          card.Card   `json:"card"`
	Side          ledger.Side `json:"side"`
	Position      int         `json:"position"`
	IsWinningCard bool        `json:"isWinningCard"`
}

func (CardDealt) EventType() string { return "card_dealt" }

type BettingStats struct {
	AndarBets decimal.Decimal    `json:"andarBets"`
	BaharBets decimal.Decimal    `json:"baharBets"`
	TotalBets decimal.Decimal    `json:"totalBets"`
	Rounds    ledger.RoundTotals `json:"rounds"`
}

func (BettingStats) EventType() string { return "betting_stats" }

func NewBettingStats(t ledger.RoundTotals) BettingStats {
	return BettingStats{
		AndarBets: t.Side(ledger.SideAndar),
		BaharBets: t.Side(ledger.SideBahar),
		TotalBets: t.Total(),
		Rounds:    t,
	}
}

type GameComplete struct {
	Winner      *ledger.Side `json:"winner"`
	WinningCard *card.Card   `json:"winningCard"`
	TotalCards  int          `json:"totalCards"`
	Reset       bool         `json:"reset,omitempty"`
}

func (GameComplete) EventType() string { return "game_complete" }

func phaseMessage(p Phase) string {
	switch p {
	case PhaseBettingR1:
		return "Round 1 betting is open"
	case PhaseDealingR1:
		return "Round 1 betting closed, dealing"
	case PhaseBettingR2:
		return "Round 2 betting is open"
	case PhaseDealingR2:
		return "Round 2 betting closed, dealing"
	case PhaseFinalDraw:
		return "Final draw, no more bets"
	case PhaseCompleted:
		return "Game complete"
	}
	return string(p)
}

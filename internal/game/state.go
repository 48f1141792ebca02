package game

import (
	"sort"

	"andarbahar_service/internal/card"
	"andarbahar_service/internal/ledger"
)

// State is the full game view sent on resync. It is rebuilt from the
// controller's fields, the ledger aggregates and the dealt cards only.
type State struct {
	GameID       string       `json:"gameId"`
	TableID      string       `json:"tableId"`
	Phase        Phase        `json:"phase"`
	Round        int          `json:"round"`
	OpeningCard  *card.Card   `json:"openingCard"`
	AndarCards   []card.Card  `json:"andarCards"`
	BaharCards   []card.Card  `json:"baharCards"`
	Timer        int          `json:"timer"`
	Winner       *ledger.Side `json:"winner"`
	WinningCard  *card.Card   `json:"winningCard"`
	BettingStats BettingStats `json:"bettingStats"`
	Reset        bool         `json:"reset,omitempty"`
}

func BuildState(g Game, dealt []DealtCard, totals ledger.RoundTotals) State {
	sorted := append([]DealtCard(nil), dealt...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	s := State{
		GameID:       g.GameID,
		TableID:      g.TableID,
		Phase:        g.Phase,
		Round:        g.Round,
		OpeningCard:  g.OpeningCard,
		AndarCards:   []card.Card{},
		BaharCards:   []card.Card{},
		Timer:        g.TimerSeconds,
		Winner:       g.Winner,
		WinningCard:  g.WinningCard,
		BettingStats: NewBettingStats(totals),
		Reset:        g.IsReset(),
	}
	for _, d := range sorted {
		if d.Side == ledger.SideAndar {
			s.AndarCards = append(s.AndarCards, d.Card)
		} else {
			s.BaharCards = append(s.BaharCards, d.Card)
		}
	}
	return s
}

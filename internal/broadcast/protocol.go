package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"andarbahar_service/internal/card"
	"andarbahar_service/internal/game"
	"github.com/go-playground/validator/v10"
)

// Envelope is the frame for every message in both directions.
type Envelope struct {
	Type   string          `json:"type"`
	GameID string          `json:"gameId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Inbound variants.

type Authenticate struct {
	UserID string `json:"userId" validate:"required,max=64"`
	Token  string `json:"token,omitempty"`
}

type SubscribeGame struct {
	GameID string `json:"gameId" validate:"required,uuid"`
}

type UnsubscribeGame struct {
	GameID string `json:"gameId" validate:"required,uuid"`
}

type SyncRequest struct {
	GameID string `json:"gameId" validate:"required,uuid"`
}

type Ping struct{}

// Operator-origin variants. They are re-broadcast verbatim to the game's
// subscribers once the sender is known to be an admin.

type GameStateUpdate struct {
	GameID string `json:"gameId" validate:"required,uuid"`
	Phase  string `json:"phase,omitempty" validate:"omitempty,oneof=idle betting_r1 dealing_r1 betting_r2 dealing_r2 final_draw completed"`
	Timer  *int   `json:"timer,omitempty" validate:"omitempty,min=0"`
}

type TimerUpdate struct {
	GameID string `json:"gameId" validate:"required,uuid"`
	Timer  int    `json:"timer" validate:"min=0"`
	Phase  string `json:"phase,omitempty" validate:"omitempty,oneof=idle betting_r1 dealing_r1 betting_r2 dealing_r2 final_draw completed"`
}

type CardDealt struct {
	GameID   string `json:"gameId" validate:"required,uuid"`
	Card     string `json:"card" validate:"required,card"`
	Side     string `json:"side" validate:"required,oneof=andar bahar"`
	Position int    `json:"position" validate:"min=0"`
}

type PhaseChange struct {
	GameID  string `json:"gameId" validate:"required,uuid"`
	Phase   string `json:"phase" validate:"required,oneof=idle betting_r1 dealing_r1 betting_r2 dealing_r2 final_draw completed"`
	Message string `json:"message,omitempty" validate:"max=256"`
}

type privileged interface {
	targetGame() string
}

func (m *GameStateUpdate) targetGame() string { return m.GameID }
func (m *TimerUpdate) targetGame() string     { return m.GameID }
func (m *CardDealt) targetGame() string       { return m.GameID }
func (m *PhaseChange) targetGame() string     { return m.GameID }

var inbound = map[string]func() any{
	"authenticate":      func() any { return &Authenticate{} },
	"subscribe_game":    func() any { return &SubscribeGame{} },
	"unsubscribe_game":  func() any { return &UnsubscribeGame{} },
	"sync_request":      func() any { return &SyncRequest{} },
	"ping":              func() any { return &Ping{} },
	"game_state_update": func() any { return &GameStateUpdate{} },
	"timer_update":      func() any { return &TimerUpdate{} },
	"card_dealt":        func() any { return &CardDealt{} },
	"phase_change":      func() any { return &PhaseChange{} },
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("card", func(fl validator.FieldLevel) bool {
		_, err := card.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Decode parses one inbound frame into its typed variant. Unknown types
// and payloads that fail validation are errors.
func Decode(raw []byte) (*Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, errors.New("Malformed message")
	}
	newMsg, ok := inbound[env.Type]
	if !ok {
		return &env, nil, fmt.Errorf("Unknown message type %q", env.Type)
	}
	msg := newMsg()
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return &env, nil, fmt.Errorf("Malformed %s message", env.Type)
	}
	if err := validate.Struct(msg); err != nil {
		return &env, nil, fmt.Errorf("Invalid %s message", env.Type)
	}
	return &env, msg, nil
}

// Outbound variants.

type Connection struct {
	ClientID string `json:"clientId"`
}

type Authenticated struct {
	UserID string `json:"userId"`
	Admin  bool   `json:"admin"`
}

type Subscribed struct {
	GameID string `json:"gameId"`
}

type Unsubscribed struct {
	GameID string `json:"gameId"`
}

type SyncGameState struct {
	GameState *game.State `json:"gameState"`
}

type Pong struct{}

type ErrorMessage struct {
	Message string `json:"message"`
}

// Encode builds an outbound frame.
func Encode(typ string, gameID string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, GameID: gameID, Data: body})
}

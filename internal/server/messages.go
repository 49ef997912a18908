package server

import (
	"encoding/json"

	"github.com/zeusync/repgraph/internal/core/models"
)

const (
	MessageMove   = "move"
	MessageLevels = "levels"
	MessagePoke   = "poke"

	MessageWelcome = "welcome"
	MessageFrame   = "frame"
)

// ClientMessage is every message a client sends.
type ClientMessage struct {
	Type string `json:"type"`

	// move
	X       float64        `json:"x,omitempty"`
	Y       float64        `json:"y,omitempty"`
	Z       float64        `json:"z,omitempty"`
	Forward *models.Vector `json:"forward,omitempty"`

	// levels
	Levels []string `json:"levels,omitempty"`

	// poke
	Actor models.ActorID `json:"actor,omitempty"`
}

type WelcomeMessage struct {
	Type       string              `json:"type"`
	Connection models.ConnectionID `json:"connection"`
	Pawn       models.ActorID      `json:"pawn"`
	TickRate   int                 `json:"tick_rate"`
}

type ActorState struct {
	ID      models.ActorID  `json:"id"`
	Class   models.ClassTag `json:"class"`
	X       float64         `json:"x"`
	Y       float64         `json:"y"`
	Z       float64         `json:"z,omitempty"`
	Level   string          `json:"level,omitempty"`
	Dormant bool            `json:"dormant,omitempty"`
	TornOff bool            `json:"torn_off,omitempty"`
}

type ClosedActor struct {
	ID     models.ActorID `json:"id"`
	Reason string         `json:"reason"`
}

// FrameMessage batches everything replicated to one client in one tick.
// Actors holds encoded ActorState values, queued as sent.
type FrameMessage struct {
	Type   string            `json:"type"`
	Frame  uint32            `json:"frame"`
	Actors []json.RawMessage `json:"actors,omitempty"`
	Closed []ClosedActor     `json:"closed,omitempty"`
	Shared []json.RawMessage `json:"shared,omitempty"`
}

func (m *FrameMessage) empty() bool {
	return len(m.Actors) == 0 && len(m.Closed) == 0 && len(m.Shared) == 0
}

// States decodes the queued actor states.
func (m *FrameMessage) States() ([]ActorState, error) {
	states := make([]ActorState, 0, len(m.Actors))
	for _, raw := range m.Actors {
		var state ActorState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (m *FrameMessage) reset() {
	m.Actors = m.Actors[:0]
	m.Closed = m.Closed[:0]
	m.Shared = m.Shared[:0]
}

func stateOf(actor *models.Actor, dormant bool) ActorState {
	return ActorState{
		ID:      actor.ID,
		Class:   actor.Class,
		X:       actor.Location.X,
		Y:       actor.Location.Y,
		Z:       actor.Location.Z,
		Level:   actor.Level,
		Dormant: dormant,
		TornOff: actor.TornOff,
	}
}

package models

import "fmt"

// ActorID is the network identity of a replicated actor.
type ActorID uint64

// ClassTag names an actor type; replication policy is registered per tag.
type ClassTag string

// NetDormancy describes whether an actor expects to stop changing.
type NetDormancy uint8

const (
	DormancyNever NetDormancy = iota
	DormancyAwake
	DormancyDormantAll
	DormancyDormantPartial
	DormancyInitial
)

func (d NetDormancy) String() string {
	switch d {
	case DormancyNever:
		return "never"
	case DormancyAwake:
		return "awake"
	case DormancyDormantAll:
		return "dormant_all"
	case DormancyDormantPartial:
		return "dormant_partial"
	case DormancyInitial:
		return "initial"
	default:
		return fmt.Sprintf("dormancy(%d)", uint8(d))
	}
}

// WantsDormant reports whether the dormancy value asks for channel dormancy.
func (d NetDormancy) WantsDormant() bool {
	return d > DormancyAwake
}

// Actor is the replication view of a simulated object. The simulation layer
// owns it and mutates Location/Forward between ticks. The engine writes
// Dormancy (SetWantsDormant) and TornOff (TearOffActor) and reads the rest.
type Actor struct {
	ID    ActorID
	Class ClassTag

	Location Vector
	// Forward is the facing direction used when the actor is a viewer.
	Forward Vector

	// Owner is a weak reference to the owning client connection; nil for
	// server-owned actors.
	Owner NetConnection

	AlwaysRelevant      bool
	OnlyRelevantToOwner bool

	// CullDistanceSquared overrides the class cull distance when non-zero.
	CullDistanceSquared float64

	Dormancy NetDormancy

	// Level is the streaming level the actor lives in; empty means the
	// persistent level which every connection sees.
	Level string

	TornOff        bool
	BeingDestroyed bool
}

func (a *Actor) String() string {
	if a == nil {
		return "<nil actor>"
	}
	return fmt.Sprintf("%s#%d", a.Class, a.ID)
}

// IsValidActor reports whether the engine may touch the actor: it must exist
// and must not be in the middle of being destroyed.
func IsValidActor(a *Actor) bool {
	return a != nil && !a.BeingDestroyed
}

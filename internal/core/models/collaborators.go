package models

// ConnectionID identifies a client connection across the engine.
type ConnectionID string

// CloseReason tells the channel collaborator why an actor channel closed.
type CloseReason uint8

const (
	CloseNormal CloseReason = iota
	CloseTearOff
	CloseTimeout
	CloseDestroyed
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseTearOff:
		return "tear_off"
	case CloseTimeout:
		return "timeout"
	case CloseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Channel is the per (actor, connection) transport handle. It owns byte level
// state sync; the engine only decides when to call it. Bit counts feed the
// per-tick budgets.
type Channel interface {
	Open()
	Replicate() int64
	Close(reason CloseReason) int64
	StartBecomingDormant()
	// Dormant reports whether the channel finished going dormant.
	Dormant() bool
	SendSharedPayload(payload []byte) int64
}

// NetConnection is the transport side of a client connection.
type NetConnection interface {
	ID() ConnectionID
	IsClosed() bool
	// OwningActor is the actor the client controls, if any.
	OwningActor() *Actor
	ViewTarget() *Actor
	IsLevelVisible(level string) bool
	CreateChannel(actor *Actor) Channel
}

// World is the read-only registry of live actors.
type World interface {
	ActorsOfType(tag ClassTag) []*Actor
}

// PreReplicator is implemented by worlds that want a hook right before an
// actor is replicated for the first time in a frame.
type PreReplicator interface {
	PreReplication(actor *Actor)
}

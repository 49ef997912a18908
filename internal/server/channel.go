package server

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/repgraph/internal/core/models"
)

var _ models.Channel = (*actorChannel)(nil)

// actorChannel writes actor state into the owning client's frame batch. The
// bit counts it reports are the JSON sizes of what it queued.
type actorChannel struct {
	client *Client
	actor  *models.Actor

	open            bool
	becomingDormant bool
	dormant         bool
	sharedHash      uint64
	sharedSent      bool
}

func (c *actorChannel) Open() {
	c.open = true
	c.dormant = false
	c.becomingDormant = false
	c.sharedSent = false
}

func (c *actorChannel) Replicate() int64 {
	if !c.open {
		return 0
	}
	c.dormant = c.becomingDormant
	c.becomingDormant = false
	b, err := json.Marshal(stateOf(c.actor, c.dormant))
	if err != nil {
		return 0
	}
	c.client.batch.Actors = append(c.client.batch.Actors, json.RawMessage(b))
	return int64(len(b)) * 8
}

func (c *actorChannel) Close(reason models.CloseReason) int64 {
	if !c.open {
		return 0
	}
	c.open = false
	closed := ClosedActor{ID: c.actor.ID, Reason: reason.String()}
	c.client.batch.Closed = append(c.client.batch.Closed, closed)
	b, _ := json.Marshal(closed)
	return int64(len(b)) * 8
}

func (c *actorChannel) StartBecomingDormant() {
	c.becomingDormant = true
}

func (c *actorChannel) Dormant() bool {
	return c.dormant
}

// SendSharedPayload skips payloads identical to the last one sent on this
// channel.
func (c *actorChannel) SendSharedPayload(payload []byte) int64 {
	if !c.open {
		return 0
	}
	hash := xxhash.Sum64(payload)
	if c.sharedSent && hash == c.sharedHash {
		return 0
	}
	c.sharedHash = hash
	c.sharedSent = true
	c.client.batch.Shared = append(c.client.batch.Shared, json.RawMessage(payload))
	return int64(len(payload)) * 8
}

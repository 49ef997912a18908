package graph

import (
	"time"

	"github.com/zeusync/repgraph/internal/core/models"
)

// ConnectionTickStats counts the work done for one connection in one tick.
type ConnectionTickStats struct {
	Connection        models.ConnectionID `json:"connection"`
	Gathered          int                 `json:"gathered"`
	Prioritized       int                 `json:"prioritized"`
	Replicated        int                 `json:"replicated"`
	Bits              int64               `json:"bits"`
	FastShared        int                 `json:"fast_shared"`
	FastSharedBits    int64               `json:"fast_shared_bits"`
	ChannelsOpened    int                 `json:"channels_opened"`
	ChannelsClosed    int                 `json:"channels_closed"`
	ChannelsTimedOut  int                 `json:"channels_timed_out"`
	BudgetExhausted   bool                `json:"budget_exhausted,omitempty"`
	FastSharedStopped bool                `json:"fast_shared_stopped,omitempty"`
}

// TickStats summarises one call to Driver.Tick.
type TickStats struct {
	Frame        uint32        `json:"frame"`
	DeltaSeconds float64       `json:"delta_seconds"`
	Duration     time.Duration `json:"duration_ns"`
	Processed    int           `json:"processed"`
	Removed      int           `json:"removed"`

	Replicated int   `json:"replicated"`
	Bits       int64 `json:"bits"`

	Connections []ConnectionTickStats `json:"connections,omitempty"`
}

func (s *TickStats) add(c ConnectionTickStats) {
	s.Replicated += c.Replicated
	s.Bits += c.Bits + c.FastSharedBits
	s.Connections = append(s.Connections, c)
}

// TickObserver is notified after every tick. Observers run on the tick
// goroutine and must not call back into the driver.
type TickObserver interface {
	OnTick(stats TickStats)
}

// TickObserverFunc adapts a function to TickObserver.
type TickObserverFunc func(stats TickStats)

func (f TickObserverFunc) OnTick(stats TickStats) { f(stats) }

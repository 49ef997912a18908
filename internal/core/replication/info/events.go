package info

import "github.com/zeusync/repgraph/internal/core/models"

type (
	// DormancyChangeHandler runs whenever WantsToBeDormant flips.
	DormancyChangeHandler func(actor *models.Actor, global *GlobalActorInfo, wantsDormant bool)
	// DormancyFlushHandler runs once on the next flush and is then dropped.
	DormancyFlushHandler func(actor *models.Actor, global *GlobalActorInfo)
)

type changeSubscriber struct {
	owner   any
	handler DormancyChangeHandler
}

type flushSubscriber struct {
	owner   any
	handler DormancyFlushHandler
}

// Events holds the per-actor dormancy subscribers. Owners are comparable keys
// (usually the subscribing node) so a subscription can be dropped again.
type Events struct {
	change []changeSubscriber
	flush  []flushSubscriber
}

// OnDormancyChange subscribes owner until RemoveDormancyChange. A second
// subscription from the same owner replaces the first.
func (e *Events) OnDormancyChange(owner any, handler DormancyChangeHandler) {
	for i := range e.change {
		if e.change[i].owner == owner {
			e.change[i].handler = handler
			return
		}
	}
	e.change = append(e.change, changeSubscriber{owner: owner, handler: handler})
}

func (e *Events) RemoveDormancyChange(owner any) {
	for i := range e.change {
		if e.change[i].owner == owner {
			e.change = append(e.change[:i], e.change[i+1:]...)
			return
		}
	}
}

// OnDormancyFlush queues a one-shot handler. Queuing twice from the same owner
// keeps a single entry.
func (e *Events) OnDormancyFlush(owner any, handler DormancyFlushHandler) {
	for i := range e.flush {
		if e.flush[i].owner == owner {
			e.flush[i].handler = handler
			return
		}
	}
	e.flush = append(e.flush, flushSubscriber{owner: owner, handler: handler})
}

func (e *Events) RemoveDormancyFlush(owner any) {
	for i := range e.flush {
		if e.flush[i].owner == owner {
			e.flush = append(e.flush[:i], e.flush[i+1:]...)
			return
		}
	}
}

func (e *Events) HasFlushSubscriber(owner any) bool {
	for i := range e.flush {
		if e.flush[i].owner == owner {
			return true
		}
	}
	return false
}

func (e *Events) NumDormancyChangeSubscribers() int { return len(e.change) }
func (e *Events) NumDormancyFlushSubscribers() int  { return len(e.flush) }

// fireChange iterates over a snapshot so handlers may unsubscribe themselves.
func (e *Events) fireChange(actor *models.Actor, global *GlobalActorInfo, wantsDormant bool) {
	if len(e.change) == 0 {
		return
	}
	subs := make([]changeSubscriber, len(e.change))
	copy(subs, e.change)
	for _, sub := range subs {
		sub.handler(actor, global, wantsDormant)
	}
}

// fireFlush drains the queue before calling handlers; a handler that
// resubscribes lands in the next flush.
func (e *Events) fireFlush(actor *models.Actor, global *GlobalActorInfo) {
	if len(e.flush) == 0 {
		return
	}
	subs := e.flush
	e.flush = nil
	for _, sub := range subs {
		sub.handler(actor, global)
	}
}

package graph

import (
	"fmt"
	"sort"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/actorlist"
)

// BucketThreshold picks NumBuckets while the node holds at most MaxActors actors.
type BucketThreshold struct {
	MaxActors  int
	NumBuckets int
}

type FrequencyBucketSettings struct {
	NumBuckets int
	ListSize   int
	// EnableFastPath gathers the buckets that are not up this frame into the
	// fast shared list every FastPathFrameModulo frames.
	EnableFastPath      bool
	FastPathFrameModulo uint32
	BucketThresholds    []BucketThreshold
}

func DefaultFrequencyBucketSettings() FrequencyBucketSettings {
	return FrequencyBucketSettings{
		NumBuckets:          3,
		ListSize:            12,
		FastPathFrameModulo: 1,
		BucketThresholds: []BucketThreshold{
			{MaxActors: 12, NumBuckets: 1},
			{MaxActors: 24, NumBuckets: 2},
		},
	}
}

var _ Node = (*FrequencyBucketsNode)(nil)

// FrequencyBucketsNode spreads non-streaming actors over round-robin buckets;
// exactly one bucket is gathered per frame.
type FrequencyBucketsNode struct {
	nodeBase
	settings   FrequencyBucketSettings
	thresholds []BucketThreshold
	buckets    []*actorlist.List
	streaming  *actorlist.StreamingLevelCollection
	total      int
	drain      []*models.Actor
}

func NewFrequencyBucketsNode(d *Driver, settings FrequencyBucketSettings) *FrequencyBucketsNode {
	if settings.NumBuckets <= 0 {
		settings.NumBuckets = 1
	}
	if settings.FastPathFrameModulo == 0 {
		settings.FastPathFrameModulo = 1
	}
	thresholds := append([]BucketThreshold(nil), settings.BucketThresholds...)
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i].MaxActors < thresholds[j].MaxActors })

	n := &FrequencyBucketsNode{
		nodeBase:   newNodeBase(d, "frequency_buckets"),
		settings:   settings,
		thresholds: thresholds,
		streaming:  actorlist.NewStreamingLevelCollection(),
	}
	n.resizeBuckets(settings.NumBuckets)
	n.checkRebalance()
	return n
}

func (n *FrequencyBucketsNode) resizeBuckets(count int) {
	for len(n.buckets) < count {
		n.buckets = append(n.buckets, actorlist.NewList(n.settings.ListSize))
	}
	clear(n.buckets[count:])
	n.buckets = n.buckets[:count]
}

func (n *FrequencyBucketsNode) NotifyAddNetworkActor(actor *models.Actor) {
	if actor.Level != "" {
		n.streaming.Add(actor)
		return
	}
	if n.containsNonStreaming(actor) {
		if debugChecks {
			panic(fmt.Sprintf("graph: %s added twice to frequency buckets", actor))
		}
		return
	}
	smallest := n.buckets[0]
	for _, bucket := range n.buckets[1:] {
		if bucket.Len() < smallest.Len() {
			smallest = bucket
		}
	}
	smallest.Add(actor)
	n.total++
	n.checkRebalance()
}

func (n *FrequencyBucketsNode) NotifyRemoveNetworkActor(actor *models.Actor, warnIfNotFound bool) bool {
	if actor.Level != "" && n.streaming.Remove(actor) {
		return true
	}
	for _, bucket := range n.buckets {
		if bucket.Remove(actor) {
			n.total--
			n.checkRebalance()
			return true
		}
	}
	if n.streaming.Remove(actor) {
		return true
	}
	n.warnNotFound(actor, warnIfNotFound)
	return false
}

func (n *FrequencyBucketsNode) containsNonStreaming(actor *models.Actor) bool {
	for _, bucket := range n.buckets {
		if bucket.Contains(actor) {
			return true
		}
	}
	return false
}

// checkRebalance picks the bucket count of the first threshold that fits the
// actor count; past every threshold it falls back to NumBuckets.
func (n *FrequencyBucketsNode) checkRebalance() {
	if len(n.thresholds) == 0 {
		return
	}
	desired := n.settings.NumBuckets
	for _, threshold := range n.thresholds {
		if n.total <= threshold.MaxActors {
			desired = threshold.NumBuckets
			break
		}
	}
	if desired > 0 && desired != len(n.buckets) {
		n.SetBucketCount(desired)
	}
}

// SetBucketCount drains every bucket in order and redistributes the actors by
// index modulo the new count.
func (n *FrequencyBucketsNode) SetBucketCount(count int) {
	if count <= 0 {
		count = 1
	}
	n.drain = n.drain[:0]
	for _, bucket := range n.buckets {
		n.drain = append(n.drain, bucket.View()...)
		bucket.Reset()
	}
	n.logger.Debug("rebalancing frequency buckets",
		log.Int("from", len(n.buckets)),
		log.Int("to", count),
		log.Int("actors", len(n.drain)))

	n.resizeBuckets(count)
	for i, actor := range n.drain {
		n.buckets[i%count].Add(actor)
	}
	clear(n.drain)
	n.drain = n.drain[:0]
}

func (n *FrequencyBucketsNode) GatherActorListsForConnection(params *GatherParams) {
	if len(n.buckets) > 0 {
		idx := int(params.FrameNum % uint32(len(n.buckets)))
		params.Out.Add(n.buckets[idx].View(), actorlist.ListDefault)

		if n.settings.EnableFastPath && params.FrameNum%n.settings.FastPathFrameModulo == 0 {
			for i, bucket := range n.buckets {
				if i != idx {
					params.Out.Add(bucket.View(), actorlist.ListFastShared)
				}
			}
		}
	}
	n.streaming.Gather(params.LevelVisible, params.Out, actorlist.ListDefault)
	n.gatherChildren(params)
}

func (n *FrequencyBucketsNode) NumBuckets() int {
	return len(n.buckets)
}

// Bucket exposes bucket idx for inspection.
func (n *FrequencyBucketsNode) Bucket(idx int) []*models.Actor {
	return n.buckets[idx].View()
}

func (n *FrequencyBucketsNode) Len() int {
	return n.total + n.streaming.Len()
}

func (n *FrequencyBucketsNode) Contains(actor *models.Actor) bool {
	return n.containsNonStreaming(actor) || n.streaming.Contains(actor)
}

// ForEachActor visits bucket actors in bucket order, then streaming actors.
func (n *FrequencyBucketsNode) ForEachActor(fn func(actor *models.Actor)) {
	for _, bucket := range n.buckets {
		for _, actor := range bucket.View() {
			fn(actor)
		}
	}
	n.streaming.ForEach(fn)
}

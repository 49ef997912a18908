package journal

import (
	"path/filepath"
	"time"

	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/graph"
)

var _ graph.TickObserver = (*TickJournal)(nil)

// Entry is one journal line.
type Entry struct {
	Time time.Time `json:"time"`
	graph.TickStats
}

// TickJournal records the stats of every replication tick. A tick with no
// connections is skipped unless RecordIdle is set.
type TickJournal struct {
	w          *Writer
	logger     log.Log
	RecordIdle bool
	failed     bool
}

// NewTickJournal writes into dir/ticks.
func NewTickJournal(dir string, logger log.Log) *TickJournal {
	return &TickJournal{
		w:      NewWriter(filepath.Join(dir, "ticks"), "ticks"),
		logger: logger.With(log.String("component", "journal")),
	}
}

func (j *TickJournal) OnTick(stats graph.TickStats) {
	if len(stats.Connections) == 0 && !j.RecordIdle {
		return
	}
	if err := j.w.Write(Entry{Time: j.w.now().UTC(), TickStats: stats}); err != nil {
		// One warning per failure streak.
		if !j.failed {
			j.logger.Warn("tick journal write failed", log.Uint32("frame", stats.Frame), log.Error(err))
		}
		j.failed = true
		return
	}
	j.failed = false
}

func (j *TickJournal) Close() error {
	return j.w.Close()
}

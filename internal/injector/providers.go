package injector

import (
	"github.com/zeusync/repgraph/internal/core/config"
	"github.com/zeusync/repgraph/internal/core/observability/log"
)

// ProvideLogger builds the process logger at the configured level.
func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.New(log.ParseLevel(cfg.Server.LogLevel))
}

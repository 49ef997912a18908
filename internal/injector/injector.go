//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/repgraph/internal/core/config"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/server"
)

func InitializeServer(cfg *config.Config) (*server.Server, error) {
	wire.Build(
		ProvideLogger,
		wire.Bind(new(log.Log), new(*log.Logger)),
		server.NewServer,
	)
	return nil, nil
}

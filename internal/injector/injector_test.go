package injector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/repgraph/internal/core/config"
	"github.com/zeusync/repgraph/internal/core/observability/log"
)

func TestInitializeServer(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "silent"

	srv, err := InitializeServer(&cfg)
	require.NoError(t, err)
	require.NotNil(t, srv)

	require.Equal(t, log.LevelSilent, ProvideLogger(&cfg).GetLevel())

	cfg.Server.TickRate = 0
	_, err = InitializeServer(&cfg)
	require.Error(t, err)
}

package graphutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/graph/inmemory"
	"github.com/papercomputeco/engram/pkg/graph/postgres"
	"github.com/papercomputeco/engram/pkg/graph/sqlite"
)

type NewGraphDriverOpts struct {
	ProviderType string
	Target       string
	Logger       *zap.Logger
}

func NewGraphDriver(ctx context.Context, o *NewGraphDriverOpts) (graph.Driver, error) {
	switch o.ProviderType {
	case "sqlite":
		return sqlite.NewDriver(ctx, sqlite.Config{DBPath: o.Target}, o.Logger)
	case "postgres":
		return postgres.NewDriver(ctx, o.Target, o.Logger)
	case "inmemory", "":
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported graph store provider: %s", o.ProviderType)
	}
}

package storage

import "go.uber.org/fx"

// Module provides the shared storage Context.
var Module = fx.Module("storage",
	fx.Provide(NewContext),
)

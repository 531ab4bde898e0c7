package config

import "go.uber.org/fx"

// Module provides Config. The caller supplies Roots.
var Module = fx.Module("config",
	fx.Provide(Load),
)

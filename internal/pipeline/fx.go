package pipeline

import (
	"github.com/Xiaobaiq-q/DataLake/internal/config"
	"github.com/Xiaobaiq-q/DataLake/internal/transform"
	"go.uber.org/fx"
)

func newIDGenerator(cfg config.Config) (transform.IDGenerator, error) {
	ids, err := transform.NewSnowflakeIDs(cfg.ETL.NodeID)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

var Module = fx.Module("pipeline",
	fx.Provide(
		newIDGenerator,
		NewRunner,
	),
)

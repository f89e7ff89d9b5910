package clip

import (
	"github.com/offsetsdb/offsetsdb/internal/clip/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("clip",
	fx.Provide(repository.Provide),
)

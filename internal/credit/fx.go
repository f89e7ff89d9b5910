package credit

import (
	"github.com/offsetsdb/offsetsdb/internal/credit/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("credit",
	fx.Provide(repository.Provide),
)

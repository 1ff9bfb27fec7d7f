package subscription

import (
	"github.com/kersonpank/treinepass-core/internal/subscription/repository"
	"github.com/kersonpank/treinepass-core/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.ProvideStores),
	fx.Provide(repository.NewResolver),
	fx.Provide(service.NewService),
)

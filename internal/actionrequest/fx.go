package actionrequest

import (
	"github.com/smallbiznis/memberledger/internal/actionrequest/repository"
	"github.com/smallbiznis/memberledger/internal/actionrequest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("actionrequest.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)

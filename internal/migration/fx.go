package migration

import (
	actiondomain "github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	auditdomain "github.com/smallbiznis/memberledger/internal/audit/domain"
	"github.com/smallbiznis/memberledger/internal/config"
	ledgerdomain "github.com/smallbiznis/memberledger/internal/ledger/domain"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres databases (sqlite for local development, mysql)
		// fall back to schema sync from the models.
		return conn.AutoMigrate(
			&programdomain.Program{},
			&programdomain.ProgramVersion{},
			&actiondomain.ActionRequest{},
			&ledgerdomain.CustomerEvent{},
			&auditdomain.AuditLog{},
		)
	}),
)

package migration

import (
	"errors"
	"strings"

	"github.com/kersonpank/treinepass-core/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(run),
)

var ErrUnmanagedDialect = errors.New("migrations: no embedded schema for this database type; provision it and set DATABASE_AUTO_MIGRATE=false")

func run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
	if !cfg.DBAutoMigrate {
		log.Info("schema managed externally", zap.String("db_type", dbType))
		return nil
	}

	switch dbType {
	case "postgres", "":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		res, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema ready",
			zap.Uint("version", res.Version),
			zap.Bool("applied", res.Applied),
			zap.Bool("dirty", res.Dirty),
		)
		return nil
	case "sqlite":
		if err := ApplySQLiteSchema(conn); err != nil {
			return err
		}
		log.Info("sqlite schema ready")
		return nil
	default:
		log.Error("refusing to start without a schema", zap.String("db_type", dbType))
		return ErrUnmanagedDialect
	}
}

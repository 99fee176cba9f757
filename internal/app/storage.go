package app

import (
	"fmt"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/store"
)

func (app *App) initializeStore() error {
	if app.Config.UsesPostgres() {
		app.Logger.Info("Store: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
	} else {
		app.Logger.Info("Store: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	st, err := store.New(app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	app.Store = st
	return nil
}

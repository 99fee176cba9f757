package app

import (
	"vpc-gateway/internal/auth"
)

func (app *App) initializeAuth() {
	app.Auth = auth.New(app.Config)
	if !app.Auth.LoginEnabled() {
		app.Logger.Warn("ADMIN_PASSWORD is not set, admin logins are disabled")
	}
}

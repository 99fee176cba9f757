package app

import (
	"time"

	"github.com/gorilla/mux"

	"vpc-gateway/internal/handlers"
	"vpc-gateway/internal/server"
)

// BuildServers creates the two listeners: the data plane forwarding
// proxy traffic and the admin API. Neither is started yet.
func (app *App) BuildServers() (*server.Server, *server.Server) {
	h := handlers.New(
		app.Store,
		app.Table,
		app.Registry,
		app.Breakers,
		app.Auth,
		handlers.ApplierFunc(app.applyAndBroadcast),
		app.Provider,
		app.Redis,
		app.Logger,
	)

	router := mux.NewRouter()
	SetupAdminRoutes(router, h, app.Collector.Handler(), app.Auth.RequireAuth, app.Limiter)

	// No write timeout on the data plane: per-route overall timeouts
	// bound slow upstreams, and a server-wide cap would cut off long
	// but legitimate responses.
	proxyTimeouts := server.Timeouts{
		Read:  30 * time.Second,
		Write: 0,
		Idle:  120 * time.Second,
	}

	proxySrv := server.New("proxy", app.Config.ListenAddr, app.Engine, proxyTimeouts,
		app.Config.TLSCertFile, app.Config.TLSKeyFile, app.Logger)
	adminSrv := server.New("admin", app.Config.AdminAddr, router, server.DefaultTimeouts(),
		"", "", app.Logger)

	return proxySrv, adminSrv
}

package app

import (
	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/events"
)

func (app *App) initializeEvents() {
	app.Events = events.NewPublisher(events.Config{
		URL:      app.Config.RabbitMQURL,
		Exchange: app.Config.EventsExchange,
		Origin:   app.instance,
	}, app.Logger)

	if app.Config.RabbitMQURL != "" {
		app.Logger.Info("Events: RabbitMQ", logging.String("exchange", app.Config.EventsExchange))
	}
}

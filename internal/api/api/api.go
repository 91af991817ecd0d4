package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/cmd/middleware"
)

type Routers struct {
	Handlers *Handlers
	AdminIDs []int64
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.GET("/events", r.Handlers.ListEvents)
	apiGroup.GET("/events/:id", r.Handlers.GetEvent)
	apiGroup.POST("/events/:id/register", r.Handlers.CreateRegistration)

	apiGroup.POST("/registrations/:id/cancel", r.Handlers.CancelRegistration)
	apiGroup.POST("/registrations/:id/waitlist", r.Handlers.RespondWaitlist)
	apiGroup.POST("/registrations/:id/confirmation", r.Handlers.RespondConfirmation)
	apiGroup.GET("/registrations/:id", r.Handlers.GetRegistration)
	apiGroup.GET("/users/:id/registrations", r.Handlers.ListUserRegistrations)

	adminGroup := apiGroup.Group("", middleware.AdminOnly(r.AdminIDs))
	adminGroup.POST("/events", r.Handlers.CreateEvent)
	adminGroup.POST("/events/:id/publish", r.Handlers.PublishEvent)
	adminGroup.POST("/events/:id/schedule", r.Handlers.SchedulePublish)
	adminGroup.POST("/events/:id/archive", r.Handlers.ArchiveEvent)
	adminGroup.GET("/events/:id/export", r.Handlers.ExportEvent)
	adminGroup.GET("/events/:id/waitlist", r.Handlers.ListWaitlist)

	return app
}

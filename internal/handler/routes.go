package handler

import "github.com/gofiber/fiber/v2"

// Routes wires handlers and middleware onto an app. Nil middleware is
// skipped.
type Routes struct {
	Jobs       *JobHandler
	System     *SystemHandler
	WebSocket  *WebSocketHandler
	Auth       fiber.Handler
	WSAuth     fiber.Handler
	StartLimit fiber.Handler
	Debug      bool
}

func (r Routes) Mount(app *fiber.App) {
	app.Get("/health", r.System.Health)
	if r.Debug {
		app.Get("/debug/breadcrumbs", r.System.Breadcrumbs)
	}

	// API routes
	api := app.Group("/api", handlers(r.Auth)...)

	jobs := api.Group("/jobs")
	jobs.Post("/", append(handlers(r.StartLimit), r.Jobs.Start)...)
	jobs.Get("/", r.Jobs.List)
	jobs.Get("/:jobId", r.Jobs.Status)
	jobs.Get("/:jobId/batches", r.Jobs.Batches)
	jobs.Get("/:jobId/wait", r.Jobs.Wait)

	// WebSocket routes
	if r.WebSocket != nil {
		wsGroup := app.Group("/ws", append([]fiber.Handler{r.WebSocket.Upgrade}, handlers(r.WSAuth)...)...)
		wsGroup.Get("/jobs/:jobId", r.WebSocket.Job())
	}
}

func handlers(h fiber.Handler) []fiber.Handler {
	if h == nil {
		return nil
	}
	return []fiber.Handler{h}
}

package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yohandry10/erp-sub001/internal/application/billing"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Commands  *billing.Commands
	JWTSecret string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Salud (público)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	documents := protected.Group("/documents")
	handler := NewDocumentHandler(deps.Commands)

	// Lectura: cualquier rol autenticado
	documents.Get("/:id", handler.GetByID)
	documents.Get("/:id/status", handler.QueryStatus)
	documents.Get("/:id/attempts", handler.ListAttempts)

	// Emisión: admin y operador
	emit := RequireRole(RoleAdmin, RoleOperador)
	documents.Post("/", emit, handler.Create)
	documents.Post("/:id/sign", emit, handler.Sign)
	documents.Post("/:id/submit", emit, handler.Submit)

	// Intervención manual: solo admin y operador
	documents.Post("/:id/resubmit", emit, handler.Resubmit)
	documents.Post("/:id/void", RequireRole(RoleAdmin), handler.Void)
}

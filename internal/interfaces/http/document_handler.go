package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yohandry10/erp-sub001/internal/application/billing"
	"github.com/yohandry10/erp-sub001/internal/application/dto"
)

// DocumentHandler maneja las peticiones HTTP del pipeline de emisión (protegido).
type DocumentHandler struct {
	commands *billing.Commands
}

// NewDocumentHandler construye el handler.
func NewDocumentHandler(commands *billing.Commands) *DocumentHandler {
	return &DocumentHandler{commands: commands}
}

// Create crea un comprobante en DRAFT con su correlativo asignado.
// POST /api/documents
func (h *DocumentHandler) Create(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CreateDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	result := h.commands.CreateDocument(c.Context(), tenantID, in)
	return respond(c, result, fiber.StatusCreated)
}

// Sign firma el comprobante (idempotente si ya está firmado).
// POST /api/documents/:id/sign
func (h *DocumentHandler) Sign(c *fiber.Ctx) error {
	result := h.commands.SignDocument(c.Context(), c.Params("id"))
	return respond(c, result, fiber.StatusOK)
}

// Submit envía el comprobante firmado al OSE.
// POST /api/documents/:id/submit
func (h *DocumentHandler) Submit(c *fiber.Ctx) error {
	result := h.commands.SubmitDocument(c.Context(), c.Params("id"))
	return respond(c, result, fiber.StatusOK)
}

// Resubmit reenvío manual del operador (reutiliza el payload firmado).
// POST /api/documents/:id/resubmit
func (h *DocumentHandler) Resubmit(c *fiber.Ctx) error {
	result := h.commands.ResubmitDocument(c.Context(), c.Params("id"))
	return respond(c, result, fiber.StatusOK)
}

// Void anula un comprobante no aceptado.
// POST /api/documents/:id/void
func (h *DocumentHandler) Void(c *fiber.Ctx) error {
	result := h.commands.VoidDocument(c.Context(), c.Params("id"))
	return respond(c, result, fiber.StatusOK)
}

// GetByID obtiene el comprobante.
// GET /api/documents/:id
func (h *DocumentHandler) GetByID(c *fiber.Ctx) error {
	result := h.commands.GetDocument(c.Context(), c.Params("id"))
	return respond(c, result, fiber.StatusOK)
}

// QueryStatus consulta el estado del comprobante ante el OSE.
// GET /api/documents/:id/status
func (h *DocumentHandler) QueryStatus(c *fiber.Ctx) error {
	result := h.commands.QueryDocumentStatus(c.Context(), c.Params("id"))
	return respond(c, result, fiber.StatusOK)
}

// ListAttempts devuelve la telemetría de intentos de envío.
// GET /api/documents/:id/attempts
func (h *DocumentHandler) ListAttempts(c *fiber.Ctx) error {
	result := h.commands.ListAttempts(c.Context(), c.Params("id"))
	return respond(c, result, fiber.StatusOK)
}

// respond traduce un CommandResult al status HTTP que corresponde.
func respond(c *fiber.Ctx, result dto.CommandResult, okStatus int) error {
	if result.Success {
		return c.Status(okStatus).JSON(result)
	}
	return c.Status(statusFor(result.ErrorCode)).JSON(result)
}

func statusFor(code string) int {
	switch code {
	case dto.CodeValidation:
		return fiber.StatusBadRequest
	case dto.CodeNotFound:
		return fiber.StatusNotFound
	case dto.CodeDuplicate, dto.CodeInvalidTransition, dto.CodeNumberConflict:
		return fiber.StatusConflict
	case dto.CodeSigningUnavailable:
		return fiber.StatusServiceUnavailable
	case dto.CodeRetriesExhausted:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

package billing

import (
	"context"
	"errors"

	"github.com/yohandry10/erp-sub001/internal/application/dto"
	"github.com/yohandry10/erp-sub001/internal/domain"
)

// Commands fachada de casos de uso de emisión. Traduce los errores del dominio
// a resultados normalizados para la capa HTTP y el CLI: toda operación devuelve
// un CommandResult, nunca un error crudo.
type Commands struct {
	machine *StateMachine
}

// NewCommands construye la fachada sobre la máquina de estados.
func NewCommands(machine *StateMachine) *Commands {
	return &Commands{machine: machine}
}

// CreateDocument crea un comprobante en DRAFT con su correlativo asignado.
func (c *Commands) CreateDocument(ctx context.Context, tenantID string, in dto.CreateDocumentRequest) dto.CommandResult {
	doc, err := c.machine.Create(ctx, tenantID, in)
	if err != nil {
		return failFor(err)
	}
	return dto.OK(dto.ToDocumentResponse(doc))
}

// SignDocument firma el comprobante (idempotente sobre documentos ya firmados).
func (c *Commands) SignDocument(ctx context.Context, documentID string) dto.CommandResult {
	doc, err := c.machine.Sign(ctx, documentID)
	if err != nil {
		return failFor(err)
	}
	return dto.OK(dto.ToDocumentResponse(doc))
}

// SubmitDocument envía el comprobante firmado al OSE.
func (c *Commands) SubmitDocument(ctx context.Context, documentID string) dto.CommandResult {
	doc, err := c.machine.Submit(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrRetriesExhausted) && doc != nil {
			// El documento queda SIGNED a la espera de reenvío manual; el
			// resultado lo refleja sin ocultar la causa.
			result := failFor(err)
			result.Data = dto.ToDocumentResponse(doc)
			return result
		}
		return failFor(err)
	}
	return dto.OK(dto.ToDocumentResponse(doc))
}

// ResubmitDocument reenvío manual reutilizando el payload firmado existente.
func (c *Commands) ResubmitDocument(ctx context.Context, documentID string) dto.CommandResult {
	doc, err := c.machine.Resubmit(ctx, documentID)
	if err != nil {
		return failFor(err)
	}
	return dto.OK(dto.ToDocumentResponse(doc))
}

// VoidDocument anula un comprobante no aceptado.
func (c *Commands) VoidDocument(ctx context.Context, documentID string) dto.CommandResult {
	doc, err := c.machine.Void(ctx, documentID)
	if err != nil {
		return failFor(err)
	}
	return dto.OK(dto.ToDocumentResponse(doc))
}

// GetDocument lectura del comprobante.
func (c *Commands) GetDocument(ctx context.Context, documentID string) dto.CommandResult {
	doc, err := c.machine.GetDocument(ctx, documentID)
	if err != nil {
		return failFor(err)
	}
	return dto.OK(dto.ToDocumentResponse(doc))
}

// QueryDocumentStatus consulta el estado del comprobante ante el OSE.
func (c *Commands) QueryDocumentStatus(ctx context.Context, documentID string) dto.CommandResult {
	result, err := c.machine.QueryStatus(ctx, documentID)
	if err != nil {
		return failFor(err)
	}
	return dto.OK(map[string]string{
		"kind":    result.Kind.String(),
		"code":    result.AuthorityCode,
		"message": result.AuthorityMessage,
		"ticket":  result.ReferenceID,
	})
}

// ListAttempts telemetría de intentos de envío.
func (c *Commands) ListAttempts(ctx context.Context, documentID string) dto.CommandResult {
	attempts, err := c.machine.ListAttempts(ctx, documentID)
	if err != nil {
		return failFor(err)
	}
	return dto.OK(dto.ToAttemptResponses(attempts))
}

// failFor mapea un error del dominio al código normalizado correspondiente.
func failFor(err error) dto.CommandResult {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return dto.Fail(dto.CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return dto.Fail(dto.CodeValidation, err.Error())
	case errors.Is(err, domain.ErrDuplicate):
		return dto.Fail(dto.CodeDuplicate, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return dto.Fail(dto.CodeInvalidTransition, err.Error())
	case errors.Is(err, domain.ErrSigningUnavailable):
		return dto.Fail(dto.CodeSigningUnavailable, err.Error())
	case errors.Is(err, domain.ErrNumberConflict):
		return dto.Fail(dto.CodeNumberConflict, err.Error())
	case errors.Is(err, domain.ErrRetriesExhausted):
		return dto.Fail(dto.CodeRetriesExhausted, err.Error())
	default:
		return dto.Fail(dto.CodeInternal, err.Error())
	}
}

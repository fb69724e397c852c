package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// Taxonomía del pipeline de emisión.

	// ErrSigningUnavailable material de llaves ausente o inválido: el documento
	// no cambia de estado y la firma demo solo aplica si está configurada.
	ErrSigningUnavailable = errors.New("firma digital no disponible")

	// ErrInvalidTransition la operación pedida no es válida para el estado actual.
	ErrInvalidTransition = errors.New("transición de estado inválida")

	// ErrNumberConflict dos creaciones concurrentes recibieron el mismo correlativo.
	// No debe ocurrir nunca; se trata como fatal y se loguea fuerte.
	ErrNumberConflict = errors.New("conflicto de numeración de serie")

	// ErrRetriesExhausted se agotaron los reintentos automáticos de envío;
	// el documento queda SIGNED para reenvío manual.
	ErrRetriesExhausted = errors.New("reintentos de envío agotados")
)

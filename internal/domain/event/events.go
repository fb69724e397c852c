// Package event define los eventos de dominio publicados en el bus interno.
package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topics del bus. El registro de suscriptores se construye explícitamente en
// el arranque; no hay emisor global ambiente.
const (
	TopicDocumentIssued = "document.issued"
)

// Resultado terminal de la emisión.
const (
	OutcomeAccepted = "ACCEPTED"
	OutcomeRejected = "REJECTED"
)

// DocumentIssued se publica exactamente una vez por documento cuando la
// autoridad resuelve la emisión (aceptado o rechazado). Los fallos de
// transporte y el agotamiento de reintentos no publican evento.
// El bus entrega al menos una vez: los consumidores deben ser idempotentes.
type DocumentIssued struct {
	DocumentID     string
	TenantID       string
	DocumentType   string
	Outcome        string // OutcomeAccepted | OutcomeRejected
	GrandTotal     decimal.Decimal
	RecipientTaxID string
	IssuedAt       time.Time
}

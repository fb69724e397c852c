package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de comprobante fiscal (códigos SUNAT, Catálogo 01, en pkg/sunat).
const (
	DocTypeInvoice    = "INVOICE"
	DocTypeCreditNote = "CREDIT_NOTE"
	DocTypeDebitNote  = "DEBIT_NOTE"
	DocTypeWaybill    = "WAYBILL"
)

// Estados del ciclo de vida de un documento fiscal. Las transiciones son
// monótonas: DRAFT → SIGNED → SUBMITTED → {ACCEPTED | REJECTED}. REJECTED
// puede volver a SIGNED solo por reenvío manual del operador. VOID es terminal.
const (
	StateDraft     = "DRAFT"     // Creado, correlativo reservado, sin firmar
	StateSigned    = "SIGNED"    // XML firmado, pendiente o fallido de envío
	StateSubmitted = "SUBMITTED" // Enviado al OSE, respuesta en curso
	StateAccepted  = "ACCEPTED"  // Aceptado por SUNAT (CDR conforme)
	StateRejected  = "REJECTED"  // Rechazado por SUNAT u error técnico marcado
	StateVoid      = "VOID"      // Anulado por el operador
)

// stateRank orden monótono de los estados para validar transiciones.
var stateRank = map[string]int{
	StateDraft:     0,
	StateSigned:    1,
	StateSubmitted: 2,
	StateAccepted:  3,
	StateRejected:  3,
	StateVoid:      3,
}

// StateAtLeast reporta si state alcanzó (o superó) el rango de min.
func StateAtLeast(state, min string) bool {
	return stateRank[state] >= stateRank[min]
}

// IsTerminalState reporta si el estado no admite más transiciones automáticas.
func IsTerminalState(state string) bool {
	return state == StateAccepted || state == StateVoid
}

// LineItem línea de detalle de un comprobante.
type LineItem struct {
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	UnitCode    string // Catálogo 03; vacío = NIU
}

// Totals totales del comprobante.
type Totals struct {
	TaxableBase decimal.Decimal // base imponible (operaciones gravadas)
	Tax         decimal.Decimal // IGV
	GrandTotal  decimal.Decimal // importe total
}

// FiscalDocument comprobante fiscal electrónico (factura, nota o guía de remisión).
// Mutado exclusivamente por la máquina de estados tras su creación; nunca se
// elimina físicamente (la anulación es un estado terminal, no un DELETE).
type FiscalDocument struct {
	ID                   string
	TenantID             string
	DocumentType         string // DocType*
	Series               string // ej. "F001", "T001"
	Number               int64  // correlativo, monotónico por (TenantID, Series), nunca reutilizado
	IssuerTaxID          string // RUC emisor
	RecipientTaxID       string
	RecipientName        string
	Currency             string
	LineItems            []LineItem
	Totals               Totals
	State                string
	SignedPayload        []byte // XML firmado; nil hasta SIGNED
	ContentHash          string // SHA-256 hex del XML firmado; se recalcula si y solo si SignedPayload cambia
	AuthorityReferenceID string // ticket/ID devuelto por el OSE al aceptar
	LastError            string
	RelatedDocumentID    string // guía derivada → ID de la factura que la originó
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Name devuelve el identificador humano serie-correlativo, ej. "F001-00000042".
func (d *FiscalDocument) Name() string {
	return FormatSeriesNumber(d.Series, d.Number)
}

// FormatSeriesNumber formatea serie y correlativo con el padding de 8 dígitos de SUNAT.
func FormatSeriesNumber(series string, number int64) string {
	return series + "-" + padNumber(number)
}

func padNumber(n int64) string {
	s := decimal.NewFromInt(n).String()
	for len(s) < 8 {
		s = "0" + s
	}
	return s
}

// Resultados de un intento de envío.
const (
	AttemptSuccess = "SUCCESS"
	AttemptFailure = "FAILURE"
	AttemptTimeout = "TIMEOUT"
)

// SubmissionAttempt telemetría de un intento de envío al OSE.
// Propiedad exclusiva de la máquina de estados: se agrega, nunca se muta.
type SubmissionAttempt struct {
	DocumentID       string
	AttemptNumber    int
	StartedAt        time.Time
	Outcome          string // Attempt*
	AuthorityCode    string
	AuthorityMessage string
}
